package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/kv"
	"github.com/kiliankoe/babyguess/internal/model"
)

// RosterRepository keeps joined players in a single list key, in join order.
// Heartbeats live in a separate hash so they never rewrite the list.
type RosterRepository struct {
	store        *kv.Store
	onlineWindow time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

func NewRosterRepository(store *kv.Store, onlineWindow time.Duration) *RosterRepository {
	if onlineWindow <= 0 {
		onlineWindow = 30 * time.Second
	}
	return &RosterRepository{
		store:        store,
		onlineWindow: onlineWindow,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log.With().Str("component", "roster_repo").Logger(),
	}
}

type rosterEntry struct {
	raw    string
	player model.Player
}

// entries decodes the list, dropping malformed and duplicate entries.
func (r *RosterRepository) entries(ctx context.Context) ([]rosterEntry, error) {
	key := playersKey(r.store)
	items, err := r.store.LRange(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "list players")
	}
	out := make([]rosterEntry, 0, len(items))
	names := make(map[string]struct{}, len(items))
	for i, raw := range items {
		where := fmt.Sprintf("%s[%d]", key, i)
		p, ok := kv.DecodeOr(r.store, where, raw, model.Player{})
		if !ok {
			continue
		}
		if p.Name == "" {
			r.store.DataQuality("roster_entry", where, errors.New("player without name"))
			continue
		}
		if _, dup := names[p.Name]; dup {
			// two concurrent joins with the same name can both pass the existence check
			r.store.DataQuality("roster_duplicate", where, fmt.Errorf("duplicate player %q", p.Name))
			continue
		}
		names[p.Name] = struct{}{}
		out = append(out, rosterEntry{raw: raw, player: p})
	}
	return out, nil
}

// List returns players in join order with their online status.
func (r *RosterRepository) List(ctx context.Context) ([]model.Player, error) {
	entries, err := r.entries(ctx)
	if err != nil {
		return nil, err
	}
	seen, err := r.store.HGetAll(ctx, seenKey(r.store))
	if err != nil {
		return nil, errors.Wrap(err, "list heartbeats")
	}
	now := r.now()
	players := make([]model.Player, 0, len(entries))
	for _, e := range entries {
		p := e.player
		if raw, ok := seen[p.Name]; ok {
			if t, ok := kv.DecodeOr(r.store, seenKey(r.store)+"/"+p.Name, raw, time.Time{}); ok && t.After(p.LastSeenAt) {
				p.LastSeenAt = t
			}
		}
		p.Online = !p.LastSeenAt.IsZero() && now.Sub(p.LastSeenAt) <= r.onlineWindow
		players = append(players, p)
	}
	return players, nil
}

func (r *RosterRepository) Get(ctx context.Context, name string) (model.Player, bool, error) {
	players, err := r.List(ctx)
	if err != nil {
		return model.Player{}, false, err
	}
	for _, p := range players {
		if p.Name == name {
			return p, true, nil
		}
	}
	return model.Player{}, false, nil
}

// Add appends a new player. The list is re-read right before the existence
// check, which narrows but does not close the window for duplicate joins.
func (r *RosterRepository) Add(ctx context.Context, name string) (model.Player, error) {
	entries, err := r.entries(ctx)
	if err != nil {
		return model.Player{}, err
	}
	for _, e := range entries {
		if e.player.Name == name {
			return model.Player{}, errs.Reject(errs.ErrNameTaken, "name %q is already taken", name)
		}
	}

	now := r.now()
	p := model.Player{ID: uuid.NewString(), Name: name, JoinedAt: now, LastSeenAt: now}
	err = r.store.Pipeline(ctx,
		kv.RPushOp(playersKey(r.store), p),
		kv.HSetOp(seenKey(r.store), map[string]any{name: now}),
	)
	if err != nil {
		return model.Player{}, errors.Wrap(err, "add player")
	}
	p.Online = true
	r.logger.Info().Str("player", name).Msg("player added")
	return p, nil
}

// Remove deletes every entry for name and returns the remaining players.
func (r *RosterRepository) Remove(ctx context.Context, name string) ([]model.Player, error) {
	key := playersKey(r.store)
	items, err := r.store.LRange(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "list players")
	}
	for _, raw := range items {
		var p model.Player
		if kv.Decode(raw, &p) != nil || p.Name != name {
			continue
		}
		if err := r.store.LRem(ctx, key, raw); err != nil {
			return nil, errors.Wrap(err, "remove player")
		}
	}
	if err := r.store.HDel(ctx, seenKey(r.store), name); err != nil {
		return nil, errors.Wrap(err, "remove heartbeat")
	}
	return r.List(ctx)
}

// Heartbeat marks name as seen now. Failures are logged and swallowed; a lost
// heartbeat only affects the online indicator.
func (r *RosterRepository) Heartbeat(ctx context.Context, name string) {
	if err := r.store.HSet(ctx, seenKey(r.store), map[string]any{name: r.now()}); err != nil {
		r.logger.Warn().Err(err).Str("player", name).Msg("heartbeat dropped")
	}
}

func (r *RosterRepository) Clear(ctx context.Context) error {
	return errors.Wrap(r.store.Delete(ctx, playersKey(r.store), seenKey(r.store)), "clear roster")
}
