package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/kv"
)

// ScoreLedger stores cumulative scores in one field-map key, name -> points.
type ScoreLedger struct {
	store  *kv.Store
	logger zerolog.Logger
}

func NewScoreLedger(store *kv.Store) *ScoreLedger {
	return &ScoreLedger{store: store, logger: log.With().Str("component", "score_ledger").Logger()}
}

// Initialize replaces all scores with a zero entry per name. The result is
// verified; entries other than names (left behind by an earlier session or a
// bad write) force one more hard reset, after which ErrCorruptState is returned.
func (l *ScoreLedger) Initialize(ctx context.Context, names []string) error {
	key := scoresKey(l.store)
	want := make(map[string]any, len(names))
	for _, n := range names {
		want[n] = 0
	}

	for attempt := 1; attempt <= 2; attempt++ {
		ops := []kv.Op{kv.DeleteOp(key, creditedKey(l.store))}
		if len(want) > 0 {
			ops = append(ops, kv.HSetOp(key, want))
		}
		if err := l.store.Pipeline(ctx, ops...); err != nil {
			return errors.Wrap(err, "initialize scores")
		}

		got, err := l.store.HGetAll(ctx, key)
		if err != nil {
			return errors.Wrap(err, "verify scores")
		}
		unexpected, missing := diffKeys(got, want)
		if len(unexpected) == 0 && len(missing) == 0 {
			return nil
		}
		l.store.DataQuality("ghost_scores", key, fmt.Errorf("unexpected %v missing %v", unexpected, missing))
		l.logger.Warn().Int("attempt", attempt).Strs("unexpected", unexpected).Strs("missing", missing).Msg("score ledger mismatch after initialize")
	}
	return errors.Wrap(errs.ErrCorruptState, "score ledger does not match roster after reset")
}

func diffKeys(got map[string]string, want map[string]any) (unexpected, missing []string) {
	for k := range got {
		if _, ok := want[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(unexpected)
	sort.Strings(missing)
	return unexpected, missing
}

// Credit adds delta to name's score for one correct vote in round and returns
// the new total. A (session, round, name) is credited at most once, so a
// retried call cannot double-count. A field that no longer holds an integer
// is overwritten with delta.
func (l *ScoreLedger) Credit(ctx context.Context, sessionID string, round int, name string, delta int) (int, error) {
	key, guard := scoresKey(l.store), creditedKey(l.store)
	field := creditField(sessionID, round, name)
	n, applied, err := l.store.HIncrByOnce(ctx, key, name, int64(delta), guard, field)
	if kv.IsReplyError(err) {
		l.store.DataQuality("score_value", key+"/"+name, err)
		if err := l.store.Pipeline(ctx,
			kv.HSetOp(key, map[string]any{name: delta}),
			kv.HSetOp(guard, map[string]any{field: 1}),
		); err != nil {
			return 0, errors.Wrap(err, "overwrite score")
		}
		return delta, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "credit score")
	}
	if !applied {
		l.logger.Debug().Str("player", name).Int("round", round).Msg("credit already applied")
	}
	return int(n), nil
}

// Ensure creates a zero entry for name unless one exists.
func (l *ScoreLedger) Ensure(ctx context.Context, name string) error {
	_, err := l.store.HSetNX(ctx, scoresKey(l.store), name, 0)
	return errors.Wrap(err, "ensure score")
}

func (l *ScoreLedger) Remove(ctx context.Context, name string) error {
	return errors.Wrap(l.store.HDel(ctx, scoresKey(l.store), name), "remove score")
}

// GetAll returns every readable score; unreadable or negative entries are dropped.
func (l *ScoreLedger) GetAll(ctx context.Context) (map[string]int, error) {
	key := scoresKey(l.store)
	raw, err := l.store.HGetAll(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read scores")
	}
	out := make(map[string]int, len(raw))
	for name, v := range raw {
		where := key + "/" + name
		n, ok := kv.DecodeOr(l.store, where, v, 0)
		if !ok {
			continue
		}
		if n < 0 {
			l.store.DataQuality("score_value", where, fmt.Errorf("negative score %d", n))
			continue
		}
		out[name] = n
	}
	return out, nil
}

func (l *ScoreLedger) Reset(ctx context.Context) error {
	return errors.Wrap(l.store.Delete(ctx, scoresKey(l.store), creditedKey(l.store)), "reset scores")
}
