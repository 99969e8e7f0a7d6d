// Package history appends a summary of every finished game to durable storage.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kiliankoe/babyguess/internal/model"
)

// FileArchive appends a human readable block per game to a text file.
type FileArchive struct {
	path string
	mu   sync.Mutex
}

func NewFileArchive(path string) *FileArchive {
	return &FileArchive{path: path}
}

func (a *FileArchive) Append(_ context.Context, rec model.HistoryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return errors.Wrap(err, "create history directory")
	}
	fileExists := false
	if _, err := os.Stat(a.path); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open history file")
	}
	defer file.Close()

	var sb strings.Builder
	if fileExists {
		sb.WriteString("\n") // spacing between games
	}
	sb.WriteString(fmt.Sprintf("Baby Photo Game - Session %s\n", rec.SessionID))
	sb.WriteString(fmt.Sprintf("Started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Ended:   %s (%s, %d rounds)\n", rec.EndedAt.Format("2006-01-02 15:04:05"), rec.Duration.Round(time.Second), rec.Rounds))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if rec.Winner != "" {
		sb.WriteString(fmt.Sprintf("Winner: %s\n", rec.Winner))
	} else {
		sb.WriteString("Winner: -\n")
	}
	sb.WriteString("\nFinal scores:\n")
	for _, ps := range ranked(rec.FinalScores) {
		sb.WriteString(fmt.Sprintf("- %s: %d points\n", ps.name, ps.score))
	}

	if _, err := file.WriteString(sb.String()); err != nil {
		return errors.Wrap(err, "write history file")
	}
	return nil
}

type playerScore struct {
	name  string
	score int
}

func ranked(scores map[string]int) []playerScore {
	out := make([]playerScore, 0, len(scores))
	for name, score := range scores {
		out = append(out, playerScore{name: name, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].name < out[j].name
	})
	return out
}
