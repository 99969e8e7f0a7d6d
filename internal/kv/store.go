// Package kv is the only place that talks to Redis. It owns serialization,
// TTL refresh, retry of transient failures and last-resort corruption repair.
package kv

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/metrics"
)

const (
	DefaultTTL         = 2 * time.Hour
	DefaultMaxAttempts = 3
	DefaultBackoff     = 100 * time.Millisecond
)

type Options struct {
	Prefix      string
	TTL         time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

type Store struct {
	client      redis.UniversalClient
	prefix      string
	ttl         time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "babyguess"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Store{
		client:      client,
		prefix:      opts.Prefix,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      log.With().Str("component", "kv").Logger(),
	}
}

// Key joins parts under the store prefix: Key("votes", "3") -> "<prefix>:votes:3".
func (s *Store) Key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) Prefix() string { return s.prefix }

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// DataQuality logs and counts a record that could not be used as stored.
func (s *Store) DataQuality(kind, where string, err error) {
	metrics.DataQuality.WithLabelValues(kind).Inc()
	s.logger.Warn().Str("event", "data_quality").Str("kind", kind).Str("where", where).Err(err).Msg("dropping unreadable record")
}

// do runs fn, retrying transient failures with linear backoff.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn(ctx)
		if !transient(err) {
			return err
		}
		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.logger.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("transient store error")
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	metrics.StoreUnavailable.WithLabelValues(op).Inc()
	return &UnavailableError{Op: op, Attempts: s.maxAttempts, Err: err}
}

func (s *Store) expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.ttl
	}
	return ttl
}

// Get returns the raw (still encoded) value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var err error
		val, err = s.client.Get(ctx, key).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetValue reads and decodes key. A missing key yields fallback; an
// undecodable one yields fallback and a data-quality event. Only transport
// failures are returned as errors.
func GetValue[T any](ctx context.Context, s *Store, key string, fallback T) (T, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	v, _ := DecodeOr(s, key, raw, fallback)
	return v, nil
}

// Set encodes value and stores it. A ttl <= 0 means the store default.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	enc, err := Encode(value)
	if err != nil {
		return err
	}
	return s.do(ctx, "set", func(ctx context.Context) error {
		return s.client.Set(ctx, key, enc, s.expiry(ttl)).Err()
	})
}

// SetNX stores value only if key does not exist and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	enc, err := Encode(value)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.do(ctx, "setnx", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, key, enc, s.expiry(ttl)).Result()
		return err
	})
	return ok, err
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.do(ctx, "del", func(ctx context.Context) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// MultiGet returns the raw values of the keys that exist.
func (s *Store) MultiGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var vals []any
	err := s.do(ctx, "mget", func(ctx context.Context) error {
		var err error
		vals, err = s.client.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Pipeline submits ops in one round trip. It is not a transaction: a
// concurrent reader may observe some of the ops applied and not others.
func (s *Store) Pipeline(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	prepared := make([]Op, 0, len(ops))
	for _, op := range ops {
		p, err := op.prepare()
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}
	return s.do(ctx, "pipeline", func(ctx context.Context) error {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range prepared {
				op.apply(ctx, pipe, s)
			}
			return nil
		})
		return err
	})
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, "hgetall", func(ctx context.Context) error {
		var err error
		out, err = s.client.HGetAll(ctx, key).Result()
		return err
	})
	return out, err
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return s.Pipeline(ctx, HSetOp(key, fields))
}

// HSetNX sets field only if it is absent, refreshing the key TTL either way.
func (s *Store) HSetNX(ctx context.Context, key, field string, value any) (bool, error) {
	enc, err := Encode(value)
	if err != nil {
		return false, err
	}
	var set bool
	err = s.do(ctx, "hsetnx", func(ctx context.Context) error {
		var cmd *redis.BoolCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			cmd = pipe.HSetNX(ctx, key, field, enc)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		set = cmd.Val()
		return nil
	})
	return set, err
}

// incrOnce adds ARGV[3] to KEYS[1][ARGV[1]] unless KEYS[2][ARGV[2]] is already
// set, then sets it. The guard is written after HINCRBY so an error reply
// leaves nothing behind.
var incrOnce = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 then
  return {0, redis.call('HGET', KEYS[1], ARGV[1]) or '0'}
end
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[2], '1')
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('EXPIRE', KEYS[2], ARGV[4])
return {1, tostring(v)}
`)

// HIncrByOnce adds delta to key/field at most once per guardKey/guardField.
// It is safe to retry: an attempt whose reply was lost is recognised by the
// guard, and the current value is returned with applied false.
func (s *Store) HIncrByOnce(ctx context.Context, key, field string, delta int64, guardKey, guardField string) (int64, bool, error) {
	var res []any
	err := s.do(ctx, "hincrby_once", func(ctx context.Context) error {
		var err error
		res, err = incrOnce.Run(ctx, s.client, []string{key, guardKey},
			field, guardField, delta, max(int64(s.ttl/time.Second), 1)).Slice()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.Errorf("hincrby_once: unexpected reply %v", res)
	}
	applied, _ := res[0].(int64)
	raw, _ := res[1].(string)
	val, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		s.DataQuality("hash_int", key+"/"+field, perr)
	}
	return val, applied == 1, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.do(ctx, "hdel", func(ctx context.Context) error {
		return s.client.HDel(ctx, key, fields...).Err()
	})
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "hlen", func(ctx context.Context) error {
		var err error
		n, err = s.client.HLen(ctx, key).Result()
		return err
	})
	return n, err
}

func (s *Store) LRange(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.do(ctx, "lrange", func(ctx context.Context) error {
		var err error
		out, err = s.client.LRange(ctx, key, 0, -1).Result()
		return err
	})
	return out, err
}

func (s *Store) RPush(ctx context.Context, key string, values ...any) error {
	if len(values) == 0 {
		return nil
	}
	return s.Pipeline(ctx, RPushOp(key, values...))
}

// LRem removes every list element equal to raw (an already encoded value).
func (s *Store) LRem(ctx context.Context, key, raw string) error {
	return s.do(ctx, "lrem", func(ctx context.Context) error {
		return s.client.LRem(ctx, key, 0, raw).Err()
	})
}

// Keys lists keys matching pattern using SCAN.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.do(ctx, "scan", func(ctx context.Context) error {
		out = out[:0]
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return err
			}
			out = append(out, keys...)
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return out, err
}

// DeletePattern removes every key matching pattern and returns how many were found.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if err := s.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload any) error {
	enc, err := Encode(payload)
	if err != nil {
		return err
	}
	return s.do(ctx, "publish", func(ctx context.Context) error {
		return s.client.Publish(ctx, channel, enc).Err()
	})
}
