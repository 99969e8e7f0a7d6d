package ws

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/babyguess/internal/broadcast"
	"github.com/kiliankoe/babyguess/internal/game"
)

func TestPublishBeforeMountFails(t *testing.T) {
	srv := New(nil, "")
	if srv.room != game.DefaultTopic {
		t.Fatalf("expected default room %q, got %q", game.DefaultTopic, srv.room)
	}
	if err := srv.Publish(context.Background(), broadcast.Envelope{Topic: "game", Event: "game-reset"}); err == nil {
		t.Fatal("publishing without a mounted server should fail")
	}
}

func TestPublishAfterMount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(nil, "party")
	srv.Mount(gin.New())
	defer srv.Close()

	if err := srv.Publish(context.Background(), broadcast.Envelope{Topic: "party", Event: "vote-update"}); err != nil {
		t.Fatalf("publish to own room: %v", err)
	}
	if err := srv.Publish(context.Background(), broadcast.Envelope{Topic: "other", Event: "vote-update"}); err != nil {
		t.Fatalf("events for other topics are skipped, not failed: %v", err)
	}
}
