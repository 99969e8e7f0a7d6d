package kv

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is matched (via errors.Is) by every error returned once a
// store operation has exhausted its retries.
var ErrStoreUnavailable = errors.New("store unavailable")

// UnavailableError reports which operation gave up and the last transport error seen.
type UnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// transient reports whether err is worth retrying. Replies from the server
// (including redis.Nil and WRONGTYPE style errors) and context errors are final.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	var reply redis.Error
	return !errors.As(err, &reply)
}

// IsReplyError reports whether err is an error reply from the server, such
// as HINCRBY on a field that does not hold an integer.
func IsReplyError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var reply redis.Error
	return errors.As(err, &reply)
}
