package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type opKind int

const (
	opSet opKind = iota
	opDelete
	opHSet
	opRPush
	opExpire
)

// Op is one write submitted through Store.Pipeline.
type Op struct {
	kind   opKind
	key    string
	keys   []string
	value  any
	fields map[string]any
	values []any
	ttl    time.Duration
}

func SetOp(key string, value any, ttl time.Duration) Op {
	return Op{kind: opSet, key: key, value: value, ttl: ttl}
}

func DeleteOp(keys ...string) Op {
	return Op{kind: opDelete, keys: keys}
}

// HSetOp writes fields into the hash at key and refreshes its TTL.
func HSetOp(key string, fields map[string]any) Op {
	return Op{kind: opHSet, key: key, fields: fields}
}

// RPushOp appends values to the list at key and refreshes its TTL.
func RPushOp(key string, values ...any) Op {
	return Op{kind: opRPush, key: key, values: values}
}

func ExpireOp(key string, ttl time.Duration) Op {
	return Op{kind: opExpire, key: key, ttl: ttl}
}

// prepare encodes the op's values so that encoding errors surface before
// anything is sent.
func (o Op) prepare() (Op, error) {
	var err error
	switch o.kind {
	case opSet:
		o.value, err = Encode(o.value)
	case opHSet:
		o.fields, err = encodeFields(o.fields)
	case opRPush:
		o.values, err = encodeAll(o.values)
	}
	return o, err
}

func (o Op) apply(ctx context.Context, pipe redis.Pipeliner, s *Store) {
	switch o.kind {
	case opSet:
		pipe.Set(ctx, o.key, o.value, s.expiry(o.ttl))
	case opDelete:
		if len(o.keys) > 0 {
			pipe.Del(ctx, o.keys...)
		}
	case opHSet:
		if len(o.fields) > 0 {
			pipe.HSet(ctx, o.key, o.fields)
			pipe.Expire(ctx, o.key, s.ttl)
		}
	case opRPush:
		if len(o.values) > 0 {
			pipe.RPush(ctx, o.key, o.values...)
			pipe.Expire(ctx, o.key, s.ttl)
		}
	case opExpire:
		pipe.Expire(ctx, o.key, s.expiry(o.ttl))
	}
}
