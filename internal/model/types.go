package model

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeWaiting  Mode = "WAITING"
	ModePlaying  Mode = "PLAYING"
	ModeFinished Mode = "FINISHED"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeWaiting, ModePlaying, ModeFinished:
		return true
	}
	return false
}

// NoAnswer is recorded for players who did not vote before the round closed.
const NoAnswer = "__NO_ANSWER__"

// Prompt is one baby photo and whose it is.
type Prompt struct {
	ID            string `json:"id"`
	MediaURL      string `json:"mediaUrl"`
	CorrectAnswer string `json:"correctAnswer"`
}

// Public strips the answer so the prompt can be shown to players.
func (p Prompt) Public() PublicPrompt {
	return PublicPrompt{ID: p.ID, MediaURL: p.MediaURL}
}

// Matches reports whether answer names the person in the photo.
func (p Prompt) Matches(answer string) bool {
	if answer == NoAnswer {
		return false
	}
	return strings.TrimSpace(answer) == strings.TrimSpace(p.CorrectAnswer)
}

type PublicPrompt struct {
	ID       string `json:"id"`
	MediaURL string `json:"mediaUrl"`
}

type Settings struct {
	SecondsPerRound int `json:"secondsPerRound"`
}

func (s Settings) RoundDuration() time.Duration {
	return time.Duration(s.SecondsPerRound) * time.Second
}

// Session is the single shared game.
type Session struct {
	ID             string     `json:"sessionId"`
	Mode           Mode       `json:"mode"`
	RoundIndex     int        `json:"roundIndex"`
	Prompts        []Prompt   `json:"prompts"`
	Settings       Settings   `json:"settings"`
	RoundStartedAt *time.Time `json:"roundStartedAt,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

func (s Session) TotalRounds() int { return len(s.Prompts) }

// CurrentPrompt returns the prompt of the open round, if any.
func (s Session) CurrentPrompt() (Prompt, bool) {
	if s.RoundIndex < 1 || s.RoundIndex > len(s.Prompts) {
		return Prompt{}, false
	}
	return s.Prompts[s.RoundIndex-1], true
}

func (s Session) IsLastRound() bool {
	return s.RoundIndex >= len(s.Prompts)
}

// SessionPatch carries the fields a write should change; nil fields are left alone.
type SessionPatch struct {
	ID             *string
	Mode           *Mode
	RoundIndex     *int
	Prompts        []Prompt
	Settings       *Settings
	RoundStartedAt *time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
}

type Player struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Online     bool      `json:"online"`
}

// HistoryRecord is the write-once summary of a finished session.
type HistoryRecord struct {
	SessionID   string         `json:"sessionId"`
	Winner      string         `json:"winner"`
	FinalScores map[string]int `json:"finalScores"`
	Rounds      int            `json:"rounds"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     time.Time      `json:"endedAt"`
	Duration    time.Duration  `json:"duration"`
}

// Submission is the outcome of recording one vote.
type Submission struct {
	Accepted       bool
	TotalSubmitted int
}
