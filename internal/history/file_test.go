package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/babyguess/internal/model"
)

func record(id string) model.HistoryRecord {
	start := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	return model.HistoryRecord{
		SessionID:   id,
		Winner:      "Alice",
		FinalScores: map[string]int{"Bob": 1, "Alice": 2, "Carol": 1},
		Rounds:      3,
		StartedAt:   start,
		EndedAt:     start.Add(90 * time.Second),
		Duration:    90 * time.Second,
	}
}

func TestFileArchiveAppendsOneBlockPerGame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.txt")
	a := NewFileArchive(path)

	require.NoError(t, a.Append(context.Background(), record("s1")))
	require.NoError(t, a.Append(context.Background(), record("s2")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)

	assert.Equal(t, 2, strings.Count(out, "Baby Photo Game - Session"))
	assert.Contains(t, out, "Session s1")
	assert.Contains(t, out, "Session s2")
	assert.Contains(t, out, "Winner: Alice")
	assert.Contains(t, out, "1m30s, 3 rounds")

	// highest first, ties by name
	alice := strings.Index(out, "- Alice: 2 points")
	bob := strings.Index(out, "- Bob: 1 points")
	carol := strings.Index(out, "- Carol: 1 points")
	assert.True(t, alice < bob && bob < carol, out)
}

type failingArchive struct{ err error }

func (f failingArchive) Append(context.Context, model.HistoryRecord) error { return f.err }

func TestMultiAppendsToAllAndJoinsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	boom := errors.New("boom")
	m := Multi{failingArchive{err: boom}, NewFileArchive(path)}

	err := m.Append(context.Background(), record("s1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "later archives still run after a failure")
}
