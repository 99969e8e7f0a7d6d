package repository

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/kv"
	"github.com/kiliankoe/babyguess/internal/model"
)

// VoteLedger stores one field-map per round number (player -> answer), so a
// late write for an old round can never land in the tally of a newer one.
type VoteLedger struct {
	store *kv.Store
}

func NewVoteLedger(store *kv.Store) *VoteLedger {
	return &VoteLedger{store: store}
}

func (l *VoteLedger) SetExpectedCount(ctx context.Context, round, n int) error {
	return errors.Wrap(l.store.Set(ctx, expectedKey(l.store, round), n, 0), "set expected votes")
}

// ExpectedCount returns the number of votes that completes round; ok is false
// when it was never set or is unreadable.
func (l *VoteLedger) ExpectedCount(ctx context.Context, round int) (int, bool, error) {
	key := expectedKey(l.store, round)
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, errors.Wrap(err, "read expected votes")
	}
	n, decoded := kv.DecodeOr(l.store, key, raw, -1)
	if !decoded || n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// Submit records answer as name's vote for round. The write is a single
// HSETNX, so of any number of concurrent submissions from one player exactly
// one is accepted; the others get AlreadyVoted and leave the stored vote alone.
func (l *VoteLedger) Submit(ctx context.Context, round int, name, answer string) (model.Submission, error) {
	key := votesKey(l.store, round)
	set, err := l.store.HSetNX(ctx, key, name, answer)
	if err != nil {
		return model.Submission{}, errors.Wrap(err, "submit vote")
	}
	total, err := l.store.HLen(ctx, key)
	if err != nil {
		return model.Submission{Accepted: set}, errors.Wrap(err, "count votes")
	}
	res := model.Submission{Accepted: set, TotalSubmitted: int(total)}
	if !set {
		return res, errs.Reject(errs.ErrAlreadyVoted, "%s already voted in round %d", name, round)
	}
	return res, nil
}

// FillMissing records answer for each name that has no vote yet and returns
// the names it filled.
func (l *VoteLedger) FillMissing(ctx context.Context, round int, names []string, answer string) ([]string, error) {
	key := votesKey(l.store, round)
	var filled []string
	for _, n := range names {
		set, err := l.store.HSetNX(ctx, key, n, answer)
		if err != nil {
			return filled, errors.Wrap(err, "fill missing vote")
		}
		if set {
			filled = append(filled, n)
		}
	}
	return filled, nil
}

// Withdraw drops name's vote, used when a player leaves mid-round.
func (l *VoteLedger) Withdraw(ctx context.Context, round int, name string) error {
	return errors.Wrap(l.store.HDel(ctx, votesKey(l.store, round), name), "withdraw vote")
}

func (l *VoteLedger) Count(ctx context.Context, round int) (int, error) {
	n, err := l.store.HLen(ctx, votesKey(l.store, round))
	return int(n), errors.Wrap(err, "count votes")
}

// GetVotes returns round's votes; undecodable answers are dropped.
func (l *VoteLedger) GetVotes(ctx context.Context, round int) (map[string]string, error) {
	key := votesKey(l.store, round)
	raw, err := l.store.HGetAll(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read votes")
	}
	out := make(map[string]string, len(raw))
	for name, v := range raw {
		if answer, ok := kv.DecodeOr(l.store, key+"/"+name, v, ""); ok {
			out[name] = answer
		}
	}
	return out, nil
}

func (l *VoteLedger) Clear(ctx context.Context, round int) error {
	return errors.Wrap(l.store.Delete(ctx, votesKey(l.store, round), expectedKey(l.store, round)), "clear votes")
}

// ClearAll removes the votes of every round.
func (l *VoteLedger) ClearAll(ctx context.Context) error {
	_, err := l.store.DeletePattern(ctx, votesPattern(l.store))
	return errors.Wrap(err, "clear all votes")
}
