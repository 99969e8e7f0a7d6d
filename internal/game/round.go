package game

import (
	"context"
	"sort"
	"time"

	"github.com/kiliankoe/babyguess/internal/metrics"
	"github.com/kiliankoe/babyguess/internal/model"
)

const (
	timerRound   = "round"
	timerAdvance = "advance"
)

// settle closes the open round of sess. Only the first caller per
// (session, round) does any work; everyone else gets false.
func (m *Manager) settle(ctx context.Context, sess model.Session, trigger string) (bool, error) {
	round := sess.RoundIndex
	claimed, err := m.sessions.ClaimSettlement(ctx, sess.ID, round)
	if err != nil || !claimed {
		return false, err
	}
	m.stopTimer(timerKey(timerRound, sess.ID, round))
	// scheduled before anything else can fail; a lost timer is recovered by
	// ForceAdvance, Resume or a late round timeout
	m.scheduleAdvance(sess.ID, round)

	metrics.Settlements.WithLabelValues(trigger).Inc()
	if sess.RoundStartedAt != nil {
		metrics.RoundDuration.Observe(m.now().Sub(*sess.RoundStartedAt).Seconds())
	}

	players, err := m.roster.List(ctx)
	if err != nil {
		return true, err
	}
	filled, err := m.votes.FillMissing(ctx, round, names(players), model.NoAnswer)
	if err != nil {
		return true, err
	}
	votes, err := m.votes.GetVotes(ctx, round)
	if err != nil {
		return true, err
	}
	scores, err := m.scores.GetAll(ctx)
	if err != nil {
		return true, err
	}

	prompt, _ := sess.CurrentPrompt()
	m.logger.Info().Str("session", sess.ID).Int("round", round).Str("trigger", trigger).Strs("no_answer", filled).Msg("round settled")
	m.announce(ctx, model.EventRoundEnded, model.RoundEndedPayload{
		SessionID:     sess.ID,
		Round:         round,
		Trigger:       trigger,
		PromptID:      prompt.ID,
		CorrectAnswer: prompt.CorrectAnswer,
		Votes:         roundVotes(prompt, players, votes),
		Scores:        scores,
	})
	return true, nil
}

// roundVotes lists votes in roster order, followed by any voter no longer on the roster.
func roundVotes(prompt model.Prompt, players []model.Player, votes map[string]string) []model.RoundVote {
	out := make([]model.RoundVote, 0, len(votes))
	listed := make(map[string]bool, len(players))
	for _, p := range players {
		answer, ok := votes[p.Name]
		if !ok {
			continue
		}
		listed[p.Name] = true
		out = append(out, model.RoundVote{Player: p.Name, Answer: answer, Correct: prompt.Matches(answer)})
	}
	var rest []string
	for name := range votes {
		if !listed[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, model.RoundVote{Player: name, Answer: votes[name], Correct: prompt.Matches(votes[name])})
	}
	return out
}

// advance moves past a settled round: the next round opens or the game ends.
// It reports whether this call did it. A stale call (session reset or already
// moved on) does nothing. If the transition fails the claim is released so a
// later attempt can finish it.
func (m *Manager) advance(ctx context.Context, sessionID string, round int) (bool, error) {
	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return false, err
	}
	if sess.ID != sessionID || sess.Mode != model.ModePlaying || sess.RoundIndex != round {
		m.logger.Debug().Str("session", sessionID).Int("round", round).Msg("skipping stale advance")
		return false, nil
	}
	claimed, err := m.sessions.ClaimAdvance(ctx, sessionID, round)
	if err != nil || !claimed {
		return false, err
	}
	m.stopTimer(timerKey(timerAdvance, sessionID, round))

	if sess.IsLastRound() {
		err = m.finish(ctx, sess)
	} else {
		err = m.openNextRound(ctx, sess)
	}
	if err != nil {
		if rerr := m.sessions.ReleaseAdvance(ctx, sessionID, round); rerr != nil {
			m.logger.Error().Err(rerr).Str("session", sessionID).Int("round", round).Msg("release advance claim")
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) openNextRound(ctx context.Context, sess model.Session) error {
	round, next := sess.RoundIndex, sess.RoundIndex+1
	players, err := m.roster.List(ctx)
	if err != nil {
		return err
	}
	if err := m.votes.SetExpectedCount(ctx, next, len(players)); err != nil {
		return err
	}
	now := m.now()
	if err := m.sessions.Write(ctx, model.SessionPatch{RoundIndex: &next, RoundStartedAt: &now}); err != nil {
		return err
	}
	if err := m.votes.Clear(ctx, round); err != nil {
		m.logger.Warn().Err(err).Int("round", round).Msg("clearing previous round votes")
	}
	sess.RoundIndex = next
	m.scheduleRoundTimer(sess.ID, next, sess.Settings.RoundDuration())

	prompt, _ := sess.CurrentPrompt()
	m.logger.Info().Str("session", sess.ID).Int("round", next).Msg("round opened")
	m.announce(ctx, model.EventNextPhoto, model.NextPhotoPayload{
		SessionID:       sess.ID,
		Round:           next,
		TotalRounds:     sess.TotalRounds(),
		Prompt:          prompt.Public(),
		RoundStartedAt:  now,
		SecondsPerRound: sess.Settings.SecondsPerRound,
	})
	return nil
}

func (m *Manager) finish(ctx context.Context, sess model.Session) error {
	scores, err := m.scores.GetAll(ctx)
	if err != nil {
		return err
	}
	players, err := m.roster.List(ctx)
	if err != nil {
		return err
	}
	winner := pickWinner(scores, players)

	now := m.now()
	mode := model.ModeFinished
	if err := m.sessions.Write(ctx, model.SessionPatch{Mode: &mode, EndedAt: &now}); err != nil {
		return err
	}
	metrics.Games.WithLabelValues("finished").Inc()

	started := now
	if sess.StartedAt != nil {
		started = *sess.StartedAt
	}
	rec := model.HistoryRecord{
		SessionID:   sess.ID,
		Winner:      winner,
		FinalScores: scores,
		Rounds:      sess.TotalRounds(),
		StartedAt:   started,
		EndedAt:     now,
		Duration:    now.Sub(started),
	}
	if m.archive != nil {
		if err := m.archive.Append(ctx, rec); err != nil {
			m.logger.Error().Err(err).Str("session", sess.ID).Msg("archive game")
		}
	}

	m.logger.Info().Str("session", sess.ID).Str("winner", winner).Msg("game finished")
	m.announce(ctx, model.EventGameEnded, model.GameEndedPayload{
		SessionID:   sess.ID,
		Winner:      winner,
		FinalScores: scores,
		Rounds:      rec.Rounds,
		DurationMS:  rec.Duration.Milliseconds(),
	})
	return nil
}

// pickWinner orders by score, then earliest join, then name.
func pickWinner(scores map[string]int, players []model.Player) string {
	joined := make(map[string]time.Time, len(players))
	for _, p := range players {
		joined[p.Name] = p.JoinedAt
	}
	var ranked []string
	for name := range scores {
		ranked = append(ranked, name)
	}
	if len(ranked) == 0 {
		return ""
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		ja, oka := joined[a]
		jb, okb := joined[b]
		if oka != okb {
			return oka
		}
		if !ja.Equal(jb) {
			return ja.Before(jb)
		}
		return a < b
	})
	return ranked[0]
}

func (m *Manager) onRoundTimeout(sessionID string, round int) {
	ctx := context.Background()
	sess, err := m.sessions.Read(ctx)
	if err != nil {
		m.logger.Error().Err(err).Int("round", round).Msg("round timer: read session")
		return
	}
	if sess.ID != sessionID || sess.Mode != model.ModePlaying || sess.RoundIndex != round {
		return
	}
	claimed, err := m.settle(ctx, sess, TriggerTimeout)
	if err != nil {
		m.logger.Error().Err(err).Int("round", round).Msg("round timer: settle")
		return
	}
	if !claimed {
		// settled elsewhere; make sure someone still moves the game on
		m.resumeAdvance(sessionID, round)
	}
}

// Resume re-arms the timers of a running game, e.g. after a restart: the
// open round's timeout with whatever time it has left, or the advance of a
// round that was settled but never moved past.
func (m *Manager) Resume(ctx context.Context) error {
	sess, err := m.sessions.Read(ctx)
	if err != nil {
		return err
	}
	if sess.Mode != model.ModePlaying {
		return nil
	}
	settled, err := m.sessions.IsSettled(ctx, sess.ID, sess.RoundIndex)
	if err != nil {
		return err
	}
	if settled {
		m.resumeAdvance(sess.ID, sess.RoundIndex)
		return nil
	}
	left := sess.Settings.RoundDuration()
	if sess.RoundStartedAt != nil {
		left -= m.now().Sub(*sess.RoundStartedAt)
	}
	m.scheduleRoundTimer(sess.ID, sess.RoundIndex, max(left, 0))
	m.logger.Info().Str("session", sess.ID).Int("round", sess.RoundIndex).Dur("left", left).Msg("round timer resumed")
	return nil
}

func (m *Manager) scheduleRoundTimer(sessionID string, round int, d time.Duration) {
	key := timerKey(timerRound, sessionID, round)
	m.schedule(key, d, func() { m.onRoundTimeout(sessionID, round) })
}

// maxAdvanceAttempts bounds the automatic retries of a failed advance;
// ForceAdvance and Resume still work after that.
const maxAdvanceAttempts = 5

func (m *Manager) scheduleAdvance(sessionID string, round int) {
	m.scheduleAdvanceAttempt(sessionID, round, 1)
}

func (m *Manager) scheduleAdvanceAttempt(sessionID string, round, attempt int) {
	key := timerKey(timerAdvance, sessionID, round)
	m.schedule(key, m.settleDelay, func() {
		_, err := m.advance(context.Background(), sessionID, round)
		if err == nil {
			return
		}
		m.logger.Error().Err(err).Int("round", round).Int("attempt", attempt).Msg("advance")
		if attempt < maxAdvanceAttempts {
			m.scheduleAdvanceAttempt(sessionID, round, attempt+1)
		}
	})
}

// resumeAdvance schedules the advance of a settled round unless this process
// already has one pending.
func (m *Manager) resumeAdvance(sessionID string, round int) {
	m.mu.Lock()
	_, pending := m.timers[timerKey(timerAdvance, sessionID, round)]
	m.mu.Unlock()
	if !pending {
		m.scheduleAdvance(sessionID, round)
	}
}

func (m *Manager) schedule(key string, d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
	}
	m.timers[key] = m.scheduler.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, key)
		m.mu.Unlock()
		f()
	})
}

func (m *Manager) stopTimer(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) stopAllTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}
