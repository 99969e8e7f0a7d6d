package kv

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode serializes v for storage. Every value goes through JSON, strings
// included, so that a stored value can always be validated by decoding it.
// Integers encode as bare digits which keeps them usable with HINCRBY.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode value")
	}
	return string(b), nil
}

// Decode is the inverse of Encode.
func Decode(raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.Wrap(err, "decode value")
	}
	return nil
}

// DecodeOr decodes raw into a T. On failure it records a data-quality event
// against where (a key or key/field description) and returns fallback, false.
func DecodeOr[T any](s *Store, where, raw string, fallback T) (T, bool) {
	var out T
	if err := Decode(raw, &out); err != nil {
		s.DataQuality("decode", where, err)
		return fallback, false
	}
	return out, true
}

func encodeAll(values []any) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		enc, err := Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		enc, err := Encode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		out[k] = enc
	}
	return out, nil
}
