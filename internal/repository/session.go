package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/kv"
	"github.com/kiliankoe/babyguess/internal/model"
)

// SessionRepository reads and writes the fields of the single active session.
type SessionRepository struct {
	store          *kv.Store
	defaultSeconds int
	logger         zerolog.Logger
}

func NewSessionRepository(store *kv.Store, defaultSecondsPerRound int) *SessionRepository {
	if defaultSecondsPerRound <= 0 {
		defaultSecondsPerRound = 20
	}
	return &SessionRepository{
		store:          store,
		defaultSeconds: defaultSecondsPerRound,
		logger:         log.With().Str("component", "session_repo").Logger(),
	}
}

func (r *SessionRepository) DefaultSettings() model.Settings {
	return model.Settings{SecondsPerRound: r.defaultSeconds}
}

// Read returns the current session. Missing keys mean "no game yet" and come
// back as the WAITING default; invalid values are coerced to safe defaults.
// Only store failures are returned as errors.
func (r *SessionRepository) Read(ctx context.Context) (model.Session, error) {
	fields := []string{fieldID, fieldMode, fieldRound, fieldPrompts, fieldSettings, fieldRoundStartedAt, fieldStartedAt, fieldEndedAt}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = sessionKey(r.store, f)
	}
	raw, err := r.store.MultiGet(ctx, keys...)
	if err != nil {
		return model.Session{}, errors.Wrap(err, "read session")
	}

	sess := model.Session{Mode: model.ModeWaiting, Settings: r.DefaultSettings()}
	get := func(field string) (string, string, bool) {
		k := sessionKey(r.store, field)
		v, ok := raw[k]
		return k, v, ok
	}

	if k, v, ok := get(fieldID); ok {
		sess.ID, _ = kv.DecodeOr(r.store, k, v, "")
	}
	if k, v, ok := get(fieldMode); ok {
		mode, _ := kv.DecodeOr(r.store, k, v, model.ModeWaiting)
		if !mode.Valid() {
			r.store.DataQuality("session_field", k, fmt.Errorf("unknown mode %q", mode))
			mode = model.ModeWaiting
		}
		sess.Mode = mode
	}
	if k, v, ok := get(fieldRound); ok {
		sess.RoundIndex, _ = kv.DecodeOr(r.store, k, v, 0)
	}
	if k, v, ok := get(fieldPrompts); ok {
		prompts, _ := kv.DecodeOr(r.store, k, v, []model.Prompt(nil))
		for i, p := range prompts {
			if p.CorrectAnswer == "" {
				r.store.DataQuality("session_field", fmt.Sprintf("%s[%d]", k, i), errors.New("prompt without answer"))
				continue
			}
			sess.Prompts = append(sess.Prompts, p)
		}
	}
	if k, v, ok := get(fieldSettings); ok {
		settings, _ := kv.DecodeOr(r.store, k, v, r.DefaultSettings())
		if settings.SecondsPerRound <= 0 {
			r.store.DataQuality("session_field", k, fmt.Errorf("secondsPerRound %d", settings.SecondsPerRound))
			settings = r.DefaultSettings()
		}
		sess.Settings = settings
	}
	for _, ts := range []struct {
		field string
		dst   **time.Time
	}{
		{fieldRoundStartedAt, &sess.RoundStartedAt},
		{fieldStartedAt, &sess.StartedAt},
		{fieldEndedAt, &sess.EndedAt},
	} {
		if k, v, ok := get(ts.field); ok {
			if t, ok := kv.DecodeOr(r.store, k, v, time.Time{}); ok && !t.IsZero() {
				*ts.dst = &t
			}
		}
	}

	r.coerce(&sess)
	return sess, nil
}

func (r *SessionRepository) coerce(sess *model.Session) {
	if sess.RoundIndex < 0 {
		sess.RoundIndex = 0
	}
	switch sess.Mode {
	case model.ModeWaiting:
		sess.RoundIndex = 0
	case model.ModePlaying:
		if len(sess.Prompts) == 0 {
			r.store.DataQuality("session_invariant", sessionKey(r.store, fieldMode), errors.New("playing without prompts"))
			sess.Mode = model.ModeWaiting
			sess.RoundIndex = 0
			return
		}
		if sess.RoundIndex < 1 || sess.RoundIndex > len(sess.Prompts) {
			r.store.DataQuality("session_invariant", sessionKey(r.store, fieldRound), fmt.Errorf("round %d of %d", sess.RoundIndex, len(sess.Prompts)))
			sess.RoundIndex = min(max(sess.RoundIndex, 1), len(sess.Prompts))
		}
	case model.ModeFinished:
		if sess.RoundIndex > len(sess.Prompts) {
			sess.RoundIndex = len(sess.Prompts)
		}
	}
}

// Write merges the non-nil fields of patch into the stored session.
func (r *SessionRepository) Write(ctx context.Context, patch model.SessionPatch) error {
	var ops []kv.Op
	set := func(field string, v any) {
		ops = append(ops, kv.SetOp(sessionKey(r.store, field), v, 0))
	}
	if patch.ID != nil {
		set(fieldID, *patch.ID)
	}
	if patch.Mode != nil {
		set(fieldMode, *patch.Mode)
	}
	if patch.RoundIndex != nil {
		set(fieldRound, *patch.RoundIndex)
	}
	if patch.Prompts != nil {
		set(fieldPrompts, patch.Prompts)
	}
	if patch.Settings != nil {
		set(fieldSettings, *patch.Settings)
	}
	if patch.RoundStartedAt != nil {
		set(fieldRoundStartedAt, *patch.RoundStartedAt)
	}
	if patch.StartedAt != nil {
		set(fieldStartedAt, *patch.StartedAt)
	}
	if patch.EndedAt != nil {
		set(fieldEndedAt, *patch.EndedAt)
	}
	if err := r.store.Pipeline(ctx, ops...); err != nil {
		return errors.Wrap(err, "write session")
	}
	return nil
}

// Reset deletes every session key plus the votes and scores that belong to it.
func (r *SessionRepository) Reset(ctx context.Context) ([]string, error) {
	if _, err := r.store.DeletePattern(ctx, sessionPattern(r.store)); err != nil {
		return nil, errors.Wrap(err, "reset session")
	}
	if _, err := r.store.DeletePattern(ctx, votesPattern(r.store)); err != nil {
		return []string{"session"}, errors.Wrap(err, "reset votes")
	}
	if err := r.store.Delete(ctx, scoresKey(r.store), creditedKey(r.store)); err != nil {
		return []string{"session", "votes"}, errors.Wrap(err, "reset scores")
	}
	r.logger.Info().Msg("session state cleared")
	return []string{"session", "votes", "scores"}, nil
}

// ClaimStart records id as the session id unless another start got there first.
func (r *SessionRepository) ClaimStart(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.SetNX(ctx, sessionKey(r.store, fieldID), id, 0)
	return ok, errors.Wrap(err, "claim start")
}

// ReleaseStart undoes ClaimStart after a start that failed part way.
func (r *SessionRepository) ReleaseStart(ctx context.Context) error {
	return r.store.Delete(ctx, sessionKey(r.store, fieldID))
}

// ClaimSettlement returns true for exactly one caller per (session, round).
func (r *SessionRepository) ClaimSettlement(ctx context.Context, sessionID string, round int) (bool, error) {
	ok, err := r.store.SetNX(ctx, settledKey(r.store, sessionID, round), time.Now().UTC(), 0)
	return ok, errors.Wrap(err, "claim settlement")
}

func (r *SessionRepository) IsSettled(ctx context.Context, sessionID string, round int) (bool, error) {
	_, ok, err := r.store.Get(ctx, settledKey(r.store, sessionID, round))
	return ok, errors.Wrap(err, "read settlement")
}

// AdvanceLease bounds how long a claimed advance may stay unfinished, e.g.
// when the process holding it dies, before another caller may take over.
const AdvanceLease = 30 * time.Second

// ClaimAdvance returns true for exactly one caller per (session, round) while
// the lease lasts. The round index moving on is what makes an advance final.
func (r *SessionRepository) ClaimAdvance(ctx context.Context, sessionID string, round int) (bool, error) {
	ok, err := r.store.SetNX(ctx, advancedKey(r.store, sessionID, round), time.Now().UTC(), AdvanceLease)
	return ok, errors.Wrap(err, "claim advance")
}

// ReleaseAdvance undoes ClaimAdvance after an advance that failed part way.
func (r *SessionRepository) ReleaseAdvance(ctx context.Context, sessionID string, round int) error {
	return errors.Wrap(r.store.Delete(ctx, advancedKey(r.store, sessionID, round)), "release advance")
}
