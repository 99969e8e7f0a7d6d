package model

import "time"

// Events published on the shared game topic.
const (
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventGameStarted  = "game-started"
	EventVoteUpdate   = "vote-update"
	EventRoundEnded   = "round-ended"
	EventNextPhoto    = "next-photo"
	EventGameEnded    = "game-ended"
	EventGameReset    = "game-reset"
)

type ResetKind string

const (
	ResetSoft ResetKind = "soft"
	ResetHard ResetKind = "hard"
)

type Tally struct {
	Round     int      `json:"round"`
	Submitted int      `json:"submitted"`
	Expected  int      `json:"expected"`
	Voters    []string `json:"voters"`
}

type PlayerJoinedPayload struct {
	Player  Player `json:"player"`
	Players int    `json:"players"`
	Rejoin  bool   `json:"rejoin"`
}

type PlayerLeftPayload struct {
	Name    string   `json:"name"`
	Players []string `json:"players"`
}

type GameStartedPayload struct {
	SessionID       string       `json:"sessionId"`
	TotalRounds     int          `json:"totalRounds"`
	SecondsPerRound int          `json:"secondsPerRound"`
	Round           int          `json:"round"`
	Prompt          PublicPrompt `json:"prompt"`
	Players         []string     `json:"players"`
}

type RoundVote struct {
	Player  string `json:"player"`
	Answer  string `json:"answer"`
	Correct bool   `json:"correct"`
}

type RoundEndedPayload struct {
	SessionID     string         `json:"sessionId"`
	Round         int            `json:"round"`
	Trigger       string         `json:"trigger"`
	PromptID      string         `json:"promptId"`
	CorrectAnswer string         `json:"correctAnswer"`
	Votes         []RoundVote    `json:"votes"`
	Scores        map[string]int `json:"scores"`
}

type NextPhotoPayload struct {
	SessionID       string       `json:"sessionId"`
	Round           int          `json:"round"`
	TotalRounds     int          `json:"totalRounds"`
	Prompt          PublicPrompt `json:"prompt"`
	RoundStartedAt  time.Time    `json:"roundStartedAt"`
	SecondsPerRound int          `json:"secondsPerRound"`
}

type GameEndedPayload struct {
	SessionID   string         `json:"sessionId"`
	Winner      string         `json:"winner"`
	FinalScores map[string]int `json:"finalScores"`
	Rounds      int            `json:"rounds"`
	DurationMS  int64          `json:"durationMs"`
}

type GameResetPayload struct {
	Kind    ResetKind `json:"kind"`
	Cleared []string  `json:"cleared"`
}
