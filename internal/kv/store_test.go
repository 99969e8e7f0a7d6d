package kv_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/babyguess/internal/kv"
)

func newStore(t *testing.T) (*kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return kv.New(client, kv.Options{Prefix: "test", TTL: time.Hour, MaxAttempts: 3, Backoff: time.Millisecond}), mr
}

type prompt struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

func TestSetGetRoundTripsStructuredValues(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	key := s.Key("session", "prompts")
	assert.Equal(t, "test:session:prompts", key)

	in := []prompt{{ID: "p1", Answer: "Alice"}, {ID: "p2", Answer: "Bob"}}
	require.NoError(t, s.Set(ctx, key, in, 0))

	out, err := kv.GetValue(ctx, s, key, []prompt(nil))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestGetValueFallsBackOnMissingAndCorrupt(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	v, err := kv.GetValue(ctx, s, s.Key("missing"), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, mr.Set(s.Key("broken"), "{not json"))
	v, err = kv.GetValue(ctx, s, s.Key("broken"), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMultiGetReturnsOnlyPresentKeys(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, s.Key("a"), "x", 0))
	require.NoError(t, s.Set(ctx, s.Key("c"), 3, 0))

	got, err := s.MultiGet(ctx, s.Key("a"), s.Key("b"), s.Key("c"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{s.Key("a"): `"x"`, s.Key("c"): "3"}, got)
}

func TestPipelineAppliesAllOps(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, s.Key("stale"), true, 0))
	err := s.Pipeline(ctx,
		kv.SetOp(s.Key("mode"), "PLAYING", 0),
		kv.HSetOp(s.Key("scores"), map[string]any{"Alice": 0, "Bob": 2}),
		kv.RPushOp(s.Key("players"), prompt{ID: "1"}),
		kv.DeleteOp(s.Key("stale")),
	)
	require.NoError(t, err)

	assert.False(t, mr.Exists(s.Key("stale")))
	mode, _ := mr.Get(s.Key("mode"))
	assert.Equal(t, `"PLAYING"`, mode)
	assert.Equal(t, "2", mr.HGet(s.Key("scores"), "Bob"))
	list, err := mr.List(s.Key("players"))
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, time.Hour, mr.TTL(s.Key("scores")))
}

func TestHashOperations(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	key := s.Key("votes", "1")

	ok, err := s.HSetNX(ctx, key, "Alice", "Bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HSetNX(ctx, key, "Alice", "Charlie")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.HLen(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	all, err := s.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Alice": `"Bob"`}, all)

	score, applied, err := s.HIncrByOnce(ctx, s.Key("scores"), "Alice", 1, s.Key("credited"), "r1:Alice")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 1, score)

	score, applied, err = s.HIncrByOnce(ctx, s.Key("scores"), "Alice", 1, s.Key("credited"), "r1:Alice")
	require.NoError(t, err)
	assert.False(t, applied, "same guard field credits once")
	assert.EqualValues(t, 1, score)

	score, applied, err = s.HIncrByOnce(ctx, s.Key("scores"), "Alice", 1, s.Key("credited"), "r2:Alice")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.EqualValues(t, 2, score)

	require.NoError(t, s.HDel(ctx, key, "Alice"))
	n, err = s.HLen(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplyErrorsAreNotRetried(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	mr.HSet(s.Key("scores"), "Alice", "lots")
	_, _, err := s.HIncrByOnce(ctx, s.Key("scores"), "Alice", 1, s.Key("credited"), "r1:Alice")
	require.Error(t, err)
	assert.True(t, kv.IsReplyError(err))
	assert.False(t, errors.Is(err, kv.ErrStoreUnavailable))
	assert.False(t, mr.Exists(s.Key("credited")), "a failed increment leaves no guard behind")
}

// lostReply lets the first script call reach the server and then reports a
// broken connection, as if the reply had been lost on the way back.
type lostReply struct {
	dropped atomic.Bool
}

func (h *lostReply) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *lostReply) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		name := cmd.Name()
		if err == nil && (name == "eval" || name == "evalsha") && h.dropped.CompareAndSwap(false, true) {
			cmd.SetErr(io.EOF)
			return io.EOF
		}
		return err
	}
}

func (h *lostReply) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRetriedIncrementAfterLostReplyCreditsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	hook := &lostReply{}
	client.AddHook(hook)
	s := kv.New(client, kv.Options{Prefix: "test", MaxAttempts: 3, Backoff: time.Millisecond})

	score, _, err := s.HIncrByOnce(context.Background(), s.Key("scores"), "Alice", 1, s.Key("credited"), "r1:Alice")
	require.NoError(t, err)
	require.True(t, hook.dropped.Load(), "the first reply should have been dropped")
	assert.EqualValues(t, 1, score)

	assert.Equal(t, "1", mr.HGet(s.Key("scores"), "Alice"), "one credit was requested")
}

func TestExhaustedRetriesSurfaceStoreUnavailable(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()

	_, _, err := s.Get(context.Background(), s.Key("anything"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, kv.ErrStoreUnavailable))

	var unavailable *kv.UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "get", unavailable.Op)
	assert.Equal(t, 3, unavailable.Attempts)
}

func TestKeysAndDeletePattern(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	for _, k := range []string{"votes:1", "votes:2", "votes:2:expected", "scores"} {
		require.NoError(t, mr.Set(s.Key(k), "1"))
	}

	keys, err := s.Keys(ctx, s.Key("votes")+":*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"test:votes:1", "test:votes:2", "test:votes:2:expected"}, keys)

	n, err := s.DeletePattern(ctx, s.Key("votes")+":*")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, mr.Exists(s.Key("scores")))
}

func TestRepairDeletesUndecodableKeys(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, s.Key("session", "mode"), "PLAYING", 0))
	require.NoError(t, mr.Set(s.Key("session", "prompts"), "[{broken"))
	mr.HSet(s.Key("scores"), "Alice", "1")
	mr.HSet(s.Key("scores"), "Bob", "nope")
	_, err := mr.Push(s.Key("players"), `{"name":"Alice"}`)
	require.NoError(t, err)
	require.NoError(t, mr.Set("other:key", "{untouched"))

	removed, err := s.Repair(ctx)
	require.NoError(t, err)
	sort.Strings(removed)
	assert.Equal(t, []string{"test:scores", "test:session:prompts"}, removed)

	assert.True(t, mr.Exists(s.Key("session", "mode")))
	assert.True(t, mr.Exists(s.Key("players")))
	assert.True(t, mr.Exists("other:key"))
}

func TestRepairLimitedToPrefixes(t *testing.T) {
	s, mr := newStore(t)

	require.NoError(t, mr.Set(s.Key("session", "mode"), "{bad"))
	require.NoError(t, mr.Set(s.Key("votes", "1", "expected"), "{bad"))

	removed, err := s.Repair(context.Background(), "votes")
	require.NoError(t, err)
	assert.Equal(t, []string{"test:votes:1:expected"}, removed)
	assert.True(t, mr.Exists(s.Key("session", "mode")))
}

func TestPublishEncodesPayload(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	sub := mr.NewSubscriber()
	sub.Subscribe("test:events:game")
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "test:events:game", map[string]string{"event": "game-reset"}))

	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"event":"game-reset"}`, msg.Message)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}
