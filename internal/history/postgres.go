package history

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/kiliankoe/babyguess/internal/model"
)

const createTable = `CREATE TABLE IF NOT EXISTS game_history (
	session_id   TEXT PRIMARY KEY,
	winner       TEXT NOT NULL,
	final_scores JSONB NOT NULL,
	rounds       INTEGER NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`

const insertRecord = `INSERT INTO game_history
	(session_id, winner, final_scores, rounds, started_at, ended_at, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (session_id) DO NOTHING`

// PostgresArchive writes one row per game. Re-appending a session is a no-op.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and makes sure the history table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresArchive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse history dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect history database")
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create history table")
	}
	return &PostgresArchive{pool: pool}, nil
}

func (a *PostgresArchive) Append(ctx context.Context, rec model.HistoryRecord) error {
	scores, err := json.Marshal(rec.FinalScores)
	if err != nil {
		return errors.Wrap(err, "encode final scores")
	}
	_, err = a.pool.Exec(ctx, insertRecord,
		rec.SessionID, rec.Winner, scores, rec.Rounds, rec.StartedAt, rec.EndedAt, rec.Duration.Milliseconds())
	return errors.Wrap(err, "insert history record")
}

func (a *PostgresArchive) Close() {
	a.pool.Close()
}
