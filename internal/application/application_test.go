package application

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/babyguess/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Port = "0"
	cfg.RedisAddr = mr.Addr()
	cfg.HistoryFile = t.TempDir() + "/history.txt"
	return cfg
}

func TestNewAPIRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminUser = "gm"

	_, err := NewAPI(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewAPIFailsOnUnreachableNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATSURL = "nats://127.0.0.1:1"

	_, err := NewAPI(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAPI(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestManagerOverStores(t *testing.T) {
	cfg := testConfig(t)
	stores := OpenStores(cfg)
	t.Cleanup(func() { _ = stores.Close() })

	m := NewManager(cfg, stores, nil, nil)
	ctx := context.Background()
	_, err := m.Join(ctx, "Alice", false)
	require.NoError(t, err)

	players, err := stores.Roster.List(ctx)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "Alice", players[0].Name)
}
