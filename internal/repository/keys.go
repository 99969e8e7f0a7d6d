// Package repository holds typed access to the game state kept in the
// key-value store. All keys share the store prefix, which is what pins the
// deployment to a single active session.
package repository

import (
	"strconv"

	"github.com/kiliankoe/babyguess/internal/kv"
)

const (
	fieldID             = "id"
	fieldMode           = "mode"
	fieldRound          = "round"
	fieldPrompts        = "prompts"
	fieldSettings       = "settings"
	fieldRoundStartedAt = "roundStartedAt"
	fieldStartedAt      = "startedAt"
	fieldEndedAt        = "endedAt"
)

func sessionKey(s *kv.Store, field string) string { return s.Key("session", field) }

func sessionPattern(s *kv.Store) string { return s.Key("session") + ":*" }

func settledKey(s *kv.Store, sessionID string, round int) string {
	return s.Key("session", "settled", sessionID, strconv.Itoa(round))
}

func advancedKey(s *kv.Store, sessionID string, round int) string {
	return s.Key("session", "advanced", sessionID, strconv.Itoa(round))
}

func playersKey(s *kv.Store) string { return s.Key("players") }

func seenKey(s *kv.Store) string { return s.Key("players", "seen") }

func scoresKey(s *kv.Store) string { return s.Key("scores") }

func creditedKey(s *kv.Store) string { return s.Key("scores", "credited") }

func creditField(sessionID string, round int, name string) string {
	return sessionID + ":" + strconv.Itoa(round) + ":" + name
}

func votesKey(s *kv.Store, round int) string { return s.Key("votes", strconv.Itoa(round)) }

func expectedKey(s *kv.Store, round int) string {
	return s.Key("votes", strconv.Itoa(round), "expected")
}

func votesPattern(s *kv.Store) string { return s.Key("votes") + ":*" }
