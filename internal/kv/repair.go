package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Repair walks every key under the given logical prefixes (all of the store's
// keys when none are given), decodes each value and deletes keys holding
// anything that does not decode. It returns the deleted keys.
//
// This is a last-resort tool; request handling never calls it.
func (s *Store) Repair(ctx context.Context, prefixes ...string) ([]string, error) {
	patterns := []string{s.prefix + ":*"}
	if len(prefixes) > 0 {
		patterns = patterns[:0]
		for _, p := range prefixes {
			patterns = append(patterns, s.Key(p)+"*")
		}
	}

	var removed []string
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		keys, err := s.Keys(ctx, pattern)
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			bad, err := s.corrupt(ctx, key)
			if err != nil {
				return removed, errors.Wrapf(err, "inspect %s", key)
			}
			if !bad {
				continue
			}
			if err := s.Delete(ctx, key); err != nil {
				return removed, err
			}
			s.DataQuality("repair", key, errors.New("undecodable value"))
			removed = append(removed, key)
		}
	}
	return removed, nil
}

func (s *Store) corrupt(ctx context.Context, key string) (bool, error) {
	var kind string
	err := s.do(ctx, "type", func(ctx context.Context) error {
		var err error
		kind, err = s.client.Type(ctx, key).Result()
		return err
	})
	if err != nil {
		return false, err
	}

	switch kind {
	case "string":
		raw, ok, err := s.Get(ctx, key)
		if err != nil || !ok {
			return false, err
		}
		return !json.Valid([]byte(raw)), nil
	case "hash":
		fields, err := s.HGetAll(ctx, key)
		if err != nil {
			return false, err
		}
		for _, v := range fields {
			if !json.Valid([]byte(v)) {
				return true, nil
			}
		}
	case "list":
		items, err := s.LRange(ctx, key)
		if err != nil {
			return false, err
		}
		for _, v := range items {
			if !json.Valid([]byte(v)) {
				return true, nil
			}
		}
	case "none":
	default:
		// sets, zsets and streams are never written by this service
		return true, nil
	}
	return false, nil
}
