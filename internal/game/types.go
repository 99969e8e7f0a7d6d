package game

import (
	"context"
	"time"

	"github.com/kiliankoe/babyguess/internal/model"
)

// SessionStore is the persisted session plus its settlement and advance claims.
type SessionStore interface {
	Read(ctx context.Context) (model.Session, error)
	Write(ctx context.Context, patch model.SessionPatch) error
	Reset(ctx context.Context) ([]string, error)
	DefaultSettings() model.Settings
	ClaimStart(ctx context.Context, id string) (bool, error)
	ReleaseStart(ctx context.Context) error
	ClaimSettlement(ctx context.Context, sessionID string, round int) (bool, error)
	IsSettled(ctx context.Context, sessionID string, round int) (bool, error)
	ClaimAdvance(ctx context.Context, sessionID string, round int) (bool, error)
	ReleaseAdvance(ctx context.Context, sessionID string, round int) error
}

type Roster interface {
	List(ctx context.Context) ([]model.Player, error)
	Get(ctx context.Context, name string) (model.Player, bool, error)
	Add(ctx context.Context, name string) (model.Player, error)
	Remove(ctx context.Context, name string) ([]model.Player, error)
	Heartbeat(ctx context.Context, name string)
	Clear(ctx context.Context) error
}

type ScoreLedger interface {
	Initialize(ctx context.Context, names []string) error
	Credit(ctx context.Context, sessionID string, round int, name string, delta int) (int, error)
	Ensure(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	GetAll(ctx context.Context) (map[string]int, error)
}

type VoteLedger interface {
	SetExpectedCount(ctx context.Context, round, n int) error
	ExpectedCount(ctx context.Context, round int) (int, bool, error)
	Submit(ctx context.Context, round int, name, answer string) (model.Submission, error)
	FillMissing(ctx context.Context, round int, names []string, answer string) ([]string, error)
	Withdraw(ctx context.Context, round int, name string) error
	Count(ctx context.Context, round int) (int, error)
	GetVotes(ctx context.Context, round int) (map[string]string, error)
	Clear(ctx context.Context, round int) error
	ClearAll(ctx context.Context) error
}

// Announcer fans an event out to connected clients. It never fails the caller.
type Announcer interface {
	Announce(ctx context.Context, topic, event string, payload any)
}

// Archive receives one record per finished game.
type Archive interface {
	Append(ctx context.Context, rec model.HistoryRecord) error
}

// Settlement triggers.
const (
	TriggerAllVoted = "all_voted"
	TriggerTimeout  = "timeout"
	TriggerForced   = "forced"
)

// SessionView is the session as players may see it: no answers for open rounds.
type SessionView struct {
	SessionID       string              `json:"sessionId"`
	Mode            model.Mode          `json:"mode"`
	Round           int                 `json:"round"`
	TotalRounds     int                 `json:"totalRounds"`
	SecondsPerRound int                 `json:"secondsPerRound"`
	Prompt          *model.PublicPrompt `json:"prompt,omitempty"`
	RoundStartedAt  *time.Time          `json:"roundStartedAt,omitempty"`
	StartedAt       *time.Time          `json:"startedAt,omitempty"`
	EndedAt         *time.Time          `json:"endedAt,omitempty"`
}

func viewOf(s model.Session) SessionView {
	v := SessionView{
		SessionID:       s.ID,
		Mode:            s.Mode,
		Round:           s.RoundIndex,
		TotalRounds:     s.TotalRounds(),
		SecondsPerRound: s.Settings.SecondsPerRound,
		RoundStartedAt:  s.RoundStartedAt,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
	}
	if s.Mode == model.ModePlaying {
		if p, ok := s.CurrentPrompt(); ok {
			pub := p.Public()
			v.Prompt = &pub
		}
	}
	return v
}

type JoinResult struct {
	Player  model.Player   `json:"player"`
	Players []model.Player `json:"players"`
	Rejoin  bool           `json:"rejoin"`
	Session SessionView    `json:"session"`
}

type StartResult struct {
	SessionID   string `json:"sessionId"`
	TotalRounds int    `json:"totalRounds"`
}

type VoteResult struct {
	Accepted bool        `json:"accepted"`
	Correct  bool        `json:"correct"`
	Round    int         `json:"round"`
	Score    int         `json:"score"`
	Tally    model.Tally `json:"tally"`
}

// AdvanceResult reports whether this call closed the round and whether it
// moved the game on (only when the round had already been closed earlier).
type AdvanceResult struct {
	Round    int  `json:"round"`
	Settled  bool `json:"settled"`
	Advanced bool `json:"advanced"`
}

// Snapshot is everything a reconnecting client needs to rebuild its view.
// Votes holds the answers of the current round once it has been settled.
type Snapshot struct {
	Session SessionView       `json:"session"`
	Players []model.Player    `json:"players"`
	Scores  map[string]int    `json:"scores"`
	Tally   *model.Tally      `json:"tally,omitempty"`
	Settled bool              `json:"settled"`
	Votes   map[string]string `json:"votes,omitempty"`
}
