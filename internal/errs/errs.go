package errs

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/kiliankoe/babyguess/internal/kv"
)

// Code is the stable identifier clients branch on.
type Code string

const (
	CodeNameTaken        Code = "NameTaken"
	CodeInvalidName      Code = "InvalidName"
	CodeUnknownPlayer    Code = "UnknownPlayer"
	CodeNoPlayers        Code = "NoPlayers"
	CodeNoPrompts        Code = "NoPrompts"
	CodeGameInProgress   Code = "GameInProgress"
	CodeNoActiveGame     Code = "NoActiveGame"
	CodeAlreadyVoted     Code = "AlreadyVoted"
	CodeRoundMismatch    Code = "RoundMismatch"
	CodeRoundClosed      Code = "RoundClosed"
	CodeInvalidRequest   Code = "InvalidRequest"
	CodeStoreUnavailable Code = "StoreUnavailable"
	CodeCorruptState     Code = "CorruptState"
	CodeInternal         Code = "Internal"
)

// Rejection is a business-rule refusal. It is an ordinary outcome, not a fault.
type Rejection struct {
	Code    Code
	Message string
}

func (r *Rejection) Error() string { return string(r.Code) + ": " + r.Message }

// Is matches any rejection carrying the same code, so a specific message
// built with Reject still satisfies errors.Is(err, ErrAlreadyVoted).
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

var (
	ErrNameTaken      = &Rejection{Code: CodeNameTaken, Message: "name is already taken"}
	ErrInvalidName    = &Rejection{Code: CodeInvalidName, Message: "name must not be empty"}
	ErrUnknownPlayer  = &Rejection{Code: CodeUnknownPlayer, Message: "player has not joined"}
	ErrNoPlayers      = &Rejection{Code: CodeNoPlayers, Message: "at least one player must join before starting"}
	ErrNoPrompts      = &Rejection{Code: CodeNoPrompts, Message: "at least one photo is required"}
	ErrGameInProgress = &Rejection{Code: CodeGameInProgress, Message: "a game is already running or finished; reset first"}
	ErrNoActiveGame   = &Rejection{Code: CodeNoActiveGame, Message: "no game is being played"}
	ErrAlreadyVoted   = &Rejection{Code: CodeAlreadyVoted, Message: "already voted this round"}
	ErrRoundMismatch  = &Rejection{Code: CodeRoundMismatch, Message: "round is not the current round"}
	ErrRoundClosed    = &Rejection{Code: CodeRoundClosed, Message: "round is already closed"}
	ErrInvalidRequest = &Rejection{Code: CodeInvalidRequest, Message: "invalid request"}
)

// ErrCorruptState marks a defensive invariant check that failed; the
// operation was aborted rather than continuing on known-bad data.
var ErrCorruptState = errors.New("corrupt state")

// Reject returns a rejection with base's code and a specific message.
func Reject(base *Rejection, format string, args ...any) error {
	return &Rejection{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf classifies any error returned by the game layer.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	if errors.Is(err, kv.ErrStoreUnavailable) {
		return CodeStoreUnavailable
	}
	if errors.Is(err, ErrCorruptState) {
		return CodeCorruptState
	}
	return CodeInternal
}

// IsRejection reports whether err is a business-rule rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
