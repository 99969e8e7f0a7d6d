// Package game is the authoritative round state machine. All state lives in the
// store behind the repository interfaces; the Manager itself only holds the
// pending round and advance timers.
package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/metrics"
	"github.com/kiliankoe/babyguess/internal/model"
)

const (
	DefaultTopic       = "game"
	DefaultSettleDelay = 5 * time.Second
)

type Deps struct {
	Sessions  SessionStore
	Roster    Roster
	Scores    ScoreLedger
	Votes     VoteLedger
	Announcer Announcer
	Archive   Archive
	Scheduler Scheduler
	Now       func() time.Time
}

type Options struct {
	Topic       string
	SettleDelay time.Duration
}

type Manager struct {
	sessions  SessionStore
	roster    Roster
	scores    ScoreLedger
	votes     VoteLedger
	announcer Announcer
	archive   Archive
	scheduler Scheduler
	now       func() time.Time

	topic       string
	settleDelay time.Duration

	mu     sync.Mutex
	timers map[string]Timer

	logger zerolog.Logger
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Scheduler == nil {
		deps.Scheduler = WallClock{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Manager{
		sessions:    deps.Sessions,
		roster:      deps.Roster,
		scores:      deps.Scores,
		votes:       deps.Votes,
		announcer:   deps.Announcer,
		archive:     deps.Archive,
		scheduler:   deps.Scheduler,
		now:         deps.Now,
		topic:       opts.Topic,
		settleDelay: opts.SettleDelay,
		timers:      make(map[string]Timer),
		logger:      log.With().Str("component", "game").Logger(),
	}
}

func (m *Manager) announce(ctx context.Context, event string, payload any) {
	if m.announcer == nil {
		return
	}
	m.announcer.Announce(ctx, m.topic, event, payload)
}

// Join adds name to the roster. With rejoin set, an existing player of the
// same name is taken over instead of rejected.
func (m *Manager) Join(ctx context.Context, name string, rejoin bool) (JoinResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return JoinResult{}, errs.ErrInvalidName
	}

	existing, found, err := m.roster.Get(ctx, name)
	if err != nil {
		return JoinResult{}, err
	}
	var p model.Player
	switch {
	case found && !rejoin:
		return JoinResult{}, errs.Reject(errs.ErrNameTaken, "name %q is already taken", name)
	case found:
		m.roster.Heartbeat(ctx, name)
		p = existing
		p.Online = true
	default:
		if p, err = m.roster.Add(ctx, name); err != nil {
			return JoinResult{}, err
		}
	}

	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return JoinResult{}, err
	}
	players, err := m.roster.List(ctx)
	if err != nil {
		return JoinResult{}, err
	}

	if sess.Mode == model.ModePlaying {
		if err := m.scores.Ensure(ctx, name); err != nil {
			return JoinResult{}, err
		}
		if !found {
			settled, err := m.sessions.IsSettled(ctx, sess.ID, sess.RoundIndex)
			if err != nil {
				return JoinResult{}, err
			}
			if !settled {
				if err := m.votes.SetExpectedCount(ctx, sess.RoundIndex, len(players)); err != nil {
					return JoinResult{}, err
				}
			}
		}
	}

	m.logger.Info().Str("player", name).Bool("rejoin", found).Int("players", len(players)).Msg("player joined")
	m.announce(ctx, model.EventPlayerJoined, model.PlayerJoinedPayload{Player: p, Players: len(players), Rejoin: found})
	return JoinResult{Player: p, Players: players, Rejoin: found, Session: viewOf(sess)}, nil
}

// Heartbeat refreshes a player's online status.
func (m *Manager) Heartbeat(ctx context.Context, name string) error {
	_, found, err := m.roster.Get(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return errs.Reject(errs.ErrUnknownPlayer, "%q has not joined", name)
	}
	m.roster.Heartbeat(ctx, name)
	return nil
}

// StartGame opens round 1 for everyone currently on the roster.
func (m *Manager) StartGame(ctx context.Context, prompts []model.Prompt, secondsPerRound int) (StartResult, error) {
	if len(prompts) == 0 {
		return StartResult{}, errs.ErrNoPrompts
	}
	cleaned := make([]model.Prompt, 0, len(prompts))
	for i, p := range prompts {
		p.CorrectAnswer = strings.TrimSpace(p.CorrectAnswer)
		if p.CorrectAnswer == "" {
			return StartResult{}, errs.Reject(errs.ErrInvalidRequest, "photo %d has no answer", i+1)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		cleaned = append(cleaned, p)
	}
	settings := m.sessions.DefaultSettings()
	if secondsPerRound > 0 {
		settings.SecondsPerRound = secondsPerRound
	}

	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if sess.Mode != model.ModeWaiting {
		return StartResult{}, errs.ErrGameInProgress
	}
	players, err := m.roster.List(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if len(players) == 0 {
		return StartResult{}, errs.ErrNoPlayers
	}

	id := uuid.NewString()
	claimed, err := m.sessions.ClaimStart(ctx, id)
	if err != nil {
		return StartResult{}, err
	}
	if !claimed {
		return StartResult{}, errs.ErrGameInProgress
	}

	if err := m.openFirstRound(ctx, id, cleaned, settings, players); err != nil {
		if rerr := m.sessions.ReleaseStart(ctx); rerr != nil {
			m.logger.Error().Err(rerr).Str("session", id).Msg("release start claim")
		}
		return StartResult{}, err
	}

	metrics.Games.WithLabelValues("started").Inc()
	m.logger.Info().Str("session", id).Int("rounds", len(cleaned)).Int("players", len(players)).Msg("game started")
	m.scheduleRoundTimer(id, 1, settings.RoundDuration())

	m.announce(ctx, model.EventGameStarted, model.GameStartedPayload{
		SessionID:       id,
		TotalRounds:     len(cleaned),
		SecondsPerRound: settings.SecondsPerRound,
		Round:           1,
		Prompt:          cleaned[0].Public(),
		Players:         names(players),
	})
	return StartResult{SessionID: id, TotalRounds: len(cleaned)}, nil
}

func (m *Manager) openFirstRound(ctx context.Context, id string, prompts []model.Prompt, settings model.Settings, players []model.Player) error {
	if err := m.scores.Initialize(ctx, names(players)); err != nil {
		return err
	}
	if err := m.votes.ClearAll(ctx); err != nil {
		return err
	}
	if err := m.votes.SetExpectedCount(ctx, 1, len(players)); err != nil {
		return err
	}
	now := m.now()
	mode, round := model.ModePlaying, 1
	return m.sessions.Write(ctx, model.SessionPatch{
		Mode:           &mode,
		RoundIndex:     &round,
		Prompts:        prompts,
		Settings:       &settings,
		RoundStartedAt: &now,
		StartedAt:      &now,
	})
}

// SubmitVote records name's answer for the current round. A round of 0 means
// whatever round is open; any other value must match it.
func (m *Manager) SubmitVote(ctx context.Context, name, answer string, round int) (VoteResult, error) {
	res, err := m.submitVote(ctx, name, answer, round)
	switch code := errs.CodeOf(err); code {
	case "":
		metrics.Votes.WithLabelValues("accepted").Inc()
	case errs.CodeAlreadyVoted:
		metrics.Votes.WithLabelValues("duplicate").Inc()
	case errs.CodeRoundClosed:
		metrics.Votes.WithLabelValues("closed").Inc()
	case errs.CodeRoundMismatch:
		metrics.Votes.WithLabelValues("mismatch").Inc()
	default:
		metrics.Votes.WithLabelValues("rejected").Inc()
	}
	return res, err
}

func (m *Manager) submitVote(ctx context.Context, name, answer string, round int) (VoteResult, error) {
	name = strings.TrimSpace(name)
	answer = strings.TrimSpace(answer)
	if name == "" {
		return VoteResult{}, errs.ErrInvalidName
	}
	if answer == "" || answer == model.NoAnswer {
		return VoteResult{}, errs.Reject(errs.ErrInvalidRequest, "answer must not be empty")
	}

	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return VoteResult{}, err
	}
	if sess.Mode != model.ModePlaying {
		return VoteResult{}, errs.ErrNoActiveGame
	}
	if round != 0 && round != sess.RoundIndex {
		return VoteResult{}, errs.Reject(errs.ErrRoundMismatch, "round %d is not open, current round is %d", round, sess.RoundIndex)
	}
	round = sess.RoundIndex

	if _, found, err := m.roster.Get(ctx, name); err != nil {
		return VoteResult{}, err
	} else if !found {
		return VoteResult{}, errs.Reject(errs.ErrUnknownPlayer, "%q has not joined", name)
	}

	settled, err := m.sessions.IsSettled(ctx, sess.ID, round)
	if err != nil {
		return VoteResult{}, err
	}
	if settled {
		return VoteResult{}, errs.Reject(errs.ErrRoundClosed, "round %d is already closed", round)
	}

	if _, err := m.votes.Submit(ctx, round, name, answer); err != nil {
		if !errors.Is(err, errs.ErrAlreadyVoted) {
			return VoteResult{}, err
		}
		// settlement fills missing votes, so a late vote looks like a duplicate
		if settled, serr := m.sessions.IsSettled(ctx, sess.ID, round); serr == nil && settled {
			return VoteResult{}, errs.Reject(errs.ErrRoundClosed, "round %d is already closed", round)
		}
		return VoteResult{}, err
	}

	prompt, _ := sess.CurrentPrompt()
	res := VoteResult{Accepted: true, Round: round, Correct: prompt.Matches(answer)}
	if res.Correct {
		if res.Score, err = m.scores.Credit(ctx, sess.ID, round, name, 1); err != nil {
			return res, err
		}
	} else if all, err := m.scores.GetAll(ctx); err == nil {
		res.Score = all[name]
	}

	if res.Tally, err = m.tally(ctx, round); err != nil {
		return res, err
	}
	m.announce(ctx, model.EventVoteUpdate, res.Tally)

	if res.Tally.Expected > 0 && res.Tally.Submitted >= res.Tally.Expected {
		if _, err := m.settle(ctx, sess, TriggerAllVoted); err != nil {
			m.logger.Error().Err(err).Int("round", round).Msg("settle after last vote")
		}
	}
	return res, nil
}

// tally re-reads the authoritative counters for round.
func (m *Manager) tally(ctx context.Context, round int) (model.Tally, error) {
	votes, err := m.votes.GetVotes(ctx, round)
	if err != nil {
		return model.Tally{}, err
	}
	expected, ok, err := m.votes.ExpectedCount(ctx, round)
	if err != nil {
		return model.Tally{}, err
	}
	if !ok {
		players, err := m.roster.List(ctx)
		if err != nil {
			return model.Tally{}, err
		}
		expected = len(players)
	}
	voters := make([]string, 0, len(votes))
	for name := range votes {
		voters = append(voters, name)
	}
	sort.Strings(voters)
	return model.Tally{Round: round, Submitted: len(votes), Expected: expected, Voters: voters}, nil
}

// ForceAdvance closes round now, whether or not everyone voted. On a round
// that is already closed it moves the game on without waiting for the settle
// delay. It reports RoundMismatch when the game has already moved past round.
func (m *Manager) ForceAdvance(ctx context.Context, round int) (AdvanceResult, error) {
	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return AdvanceResult{}, err
	}
	if sess.Mode != model.ModePlaying {
		return AdvanceResult{}, errs.ErrNoActiveGame
	}
	if round != sess.RoundIndex {
		return AdvanceResult{}, errs.Reject(errs.ErrRoundMismatch, "round %d is not open, current round is %d", round, sess.RoundIndex)
	}
	settled, err := m.settle(ctx, sess, TriggerForced)
	if err != nil {
		return AdvanceResult{}, err
	}
	if settled {
		return AdvanceResult{Round: round, Settled: true}, nil
	}
	// closed earlier: move on now instead of waiting on a timer this
	// process may not hold
	advanced, err := m.advance(ctx, sess.ID, round)
	if err != nil {
		return AdvanceResult{Round: round}, err
	}
	return AdvanceResult{Round: round, Advanced: advanced}, nil
}

// RemovePlayer drops name from the roster and scores. If a round is open the
// player's vote is withdrawn and the round settles when everyone left has voted.
func (m *Manager) RemovePlayer(ctx context.Context, name string) ([]model.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.ErrInvalidName
	}
	_, found, err := m.roster.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return m.roster.List(ctx)
	}

	remaining, err := m.roster.Remove(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.scores.Remove(ctx, name); err != nil {
		return nil, err
	}

	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Mode == model.ModePlaying {
		if err := m.shrinkRound(ctx, sess, name, len(remaining)); err != nil {
			return nil, err
		}
	}

	m.logger.Info().Str("player", name).Int("players", len(remaining)).Msg("player removed")
	m.announce(ctx, model.EventPlayerLeft, model.PlayerLeftPayload{Name: name, Players: names(remaining)})
	return remaining, nil
}

func (m *Manager) shrinkRound(ctx context.Context, sess model.Session, name string, expected int) error {
	round := sess.RoundIndex
	settled, err := m.sessions.IsSettled(ctx, sess.ID, round)
	if err != nil || settled {
		return err
	}
	if err := m.votes.Withdraw(ctx, round, name); err != nil {
		return err
	}
	if err := m.votes.SetExpectedCount(ctx, round, expected); err != nil {
		return err
	}
	count, err := m.votes.Count(ctx, round)
	if err != nil {
		return err
	}
	if expected > 0 && count >= expected {
		_, err = m.settle(ctx, sess, TriggerAllVoted)
	}
	return err
}

// ResetGame clears the session, its votes and scores. A hard reset also
// empties the roster.
func (m *Manager) ResetGame(ctx context.Context, kind model.ResetKind) ([]string, error) {
	if kind != model.ResetSoft && kind != model.ResetHard {
		return nil, errs.Reject(errs.ErrInvalidRequest, "unknown reset kind %q", kind)
	}
	m.stopAllTimers()

	cleared, err := m.sessions.Reset(ctx)
	if err != nil {
		return cleared, err
	}
	if kind == model.ResetHard {
		if err := m.roster.Clear(ctx); err != nil {
			return cleared, err
		}
		cleared = append(cleared, "roster")
	}

	metrics.Games.WithLabelValues("reset_" + string(kind)).Inc()
	m.logger.Info().Str("kind", string(kind)).Strs("cleared", cleared).Msg("game reset")
	m.announce(ctx, model.EventGameReset, model.GameResetPayload{Kind: kind, Cleared: cleared})
	return cleared, nil
}

// State returns a snapshot for clients recovering from a reconnect.
func (m *Manager) State(ctx context.Context) (Snapshot, error) {
	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	players, err := m.roster.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	scores, err := m.scores.GetAll(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Session: viewOf(sess), Players: players, Scores: scores}
	if sess.Mode != model.ModePlaying {
		return snap, nil
	}

	tally, err := m.tally(ctx, sess.RoundIndex)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Tally = &tally
	if snap.Settled, err = m.sessions.IsSettled(ctx, sess.ID, sess.RoundIndex); err != nil {
		return Snapshot{}, err
	}
	if snap.Settled {
		if snap.Votes, err = m.votes.GetVotes(ctx, sess.RoundIndex); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func names(players []model.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Name
	}
	return out
}

func timerKey(kind, sessionID string, round int) string {
	return fmt.Sprintf("%s:%s:%d", kind, sessionID, round)
}
