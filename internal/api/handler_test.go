package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/babyguess/internal/api"
	"github.com/kiliankoe/babyguess/internal/game"
	"github.com/kiliankoe/babyguess/internal/kv"
	"github.com/kiliankoe/babyguess/internal/repository"
)

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// idleScheduler never fires, so rounds only settle through votes or /advance.
type idleScheduler struct{}

func (idleScheduler) AfterFunc(time.Duration, func()) game.Timer { return idleTimer{} }

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newServer(t *testing.T, admin api.AdminAccounts) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := kv.New(client, kv.Options{Prefix: "test", MaxAttempts: 1, Backoff: time.Millisecond})

	m := game.NewManager(game.Deps{
		Sessions:  repository.NewSessionRepository(store, 20),
		Roster:    repository.NewRosterRepository(store, time.Minute),
		Scores:    repository.NewScoreLedger(store),
		Votes:     repository.NewVoteLedger(store),
		Scheduler: idleScheduler{},
	}, game.Options{})
	return api.NewRouter(api.NewGameHandler(m), api.NewHealthHandler(store), admin, nil), mr
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestHealthAndReady(t *testing.T) {
	r, mr := newServer(t, nil)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", nil).Code)

	mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/ready", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newServer(t, nil)
	w := do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJoinAndConflicts(t *testing.T) {
	r, _ := newServer(t, nil)

	w := do(r, http.MethodPost, "/api/players", map[string]any{"name": "Alice"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/players", map[string]any{"name": "Alice"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NameTaken", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/players", map[string]any{"name": "Alice", "rejoin": true})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/players", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidRequest", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/players/Nobody/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UnknownPlayer", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/players/Alice/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestFullRoundOverHTTP(t *testing.T) {
	r, _ := newServer(t, nil)

	w := do(r, http.MethodPost, "/api/admin/start", map[string]any{
		"prompts": []map[string]any{{"id": "p1", "mediaUrl": "/1.jpg", "correctAnswer": "Alice"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NoPlayers", decodeError(t, w).Error.Code)

	do(r, http.MethodPost, "/api/players", map[string]any{"name": "Alice"})
	do(r, http.MethodPost, "/api/players", map[string]any{"name": "Bob"})

	w = do(r, http.MethodPost, "/api/admin/start", map[string]any{"prompts": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NoPrompts", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/admin/start", map[string]any{
		"prompts": []map[string]any{
			{"id": "p1", "mediaUrl": "/1.jpg", "correctAnswer": "Alice"},
			{"id": "p2", "mediaUrl": "/2.jpg", "correctAnswer": "Bob"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correctAnswer")

	w = do(r, http.MethodPost, "/api/votes", map[string]any{"name": "Alice", "answer": "Alice", "round": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vote game.VoteResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vote))
	assert.True(t, vote.Correct)
	assert.Equal(t, 1, vote.Score)

	w = do(r, http.MethodPost, "/api/votes", map[string]any{"name": "Alice", "answer": "Bob", "round": 0})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyVoted", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/votes", map[string]any{"name": "Bob", "answer": "Bob", "round": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RoundMismatch", decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/api/admin/advance", map[string]any{"round": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var adv game.AdvanceResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adv))
	assert.True(t, adv.Settled)

	w = do(r, http.MethodPost, "/api/votes", map[string]any{"name": "Bob", "answer": "Bob", "round": 0})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RoundClosed", decodeError(t, w).Error.Code)
}

func TestResetAndLeave(t *testing.T) {
	r, _ := newServer(t, nil)
	do(r, http.MethodPost, "/api/players", map[string]any{"name": "Alice"})
	do(r, http.MethodPost, "/api/players", map[string]any{"name": "Bob"})

	w := do(r, http.MethodDelete, "/api/players/Bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "Bob")

	w = do(r, http.MethodPost, "/api/admin/reset", map[string]any{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/admin/reset", map[string]any{"kind": "hard"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/state", nil)
	assert.NotContains(t, w.Body.String(), "Alice")
}

func TestAdminRoutesRequireBasicAuth(t *testing.T) {
	r, _ := newServer(t, api.AdminAccounts{"gm": "secret"})

	w := do(r, http.MethodPost, "/api/admin/reset", map[string]any{"kind": "soft"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/reset", bytes.NewBufferString(`{"kind":"soft"}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("gm", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/state", nil).Code)
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	r, mr := newServer(t, nil)
	mr.Close()

	w := do(r, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "StoreUnavailable", decodeError(t, w).Error.Code)
}
