package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/event"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// DB is the subset of *pgxpool.Pool the archive needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

// Service keeps finished sessions after the live store sweeps them.
type Service struct {
	eb *event.Bus
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.Record(ctx, e.(domain.EventSessionFinished).Session)
	})

	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS quiz_sessions (
	id             TEXT PRIMARY KEY,
	variant_id     INTEGER NOT NULL,
	variant_name   TEXT NOT NULL,
	is_random      BOOLEAN NOT NULL,
	question_count INTEGER NOT NULL,
	created_by     BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	start_time     TIMESTAMPTZ,
	end_time       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS quiz_results (
	session_id  TEXT NOT NULL REFERENCES quiz_sessions (id) ON DELETE CASCADE,
	user_id     BIGINT NOT NULL,
	username    TEXT NOT NULL,
	name        TEXT NOT NULL,
	score       INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	percentage  BIGINT NOT NULL,
	left_early  BOOLEAN NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, user_id)
);

CREATE INDEX IF NOT EXISTS quiz_results_user_finished_idx ON quiz_results (user_id, finished_at DESC);`

// Migrate creates the archive tables if they do not exist.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	return nil
}

// Record stores a finished session and the final result of each participant.
// Recording the same session twice keeps the first copy.
func (s *Service) Record(ctx context.Context, ss domain.Session) error {
	const (
		insertSession = `
INSERT INTO quiz_sessions (id, variant_id, variant_name, is_random, question_count, created_by, created_at, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING;`

		insertResult = `
INSERT INTO quiz_results (session_id, user_id, username, name, score, total, percentage, left_early, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, user_id) DO NOTHING;`
	)

	b := &pgx.Batch{}
	b.Queue(insertSession, ss.ID, ss.VariantID, ss.VariantName, ss.IsRandom, ss.QuestionCount,
		ss.CreatedBy, ss.CreatedAt, ss.StartTime, ss.EndTime)

	for _, p := range ss.Participants {
		finishedAt := time.Time{}
		switch {
		case p.FinishedAt != nil:
			finishedAt = *p.FinishedAt
		case ss.EndTime != nil:
			finishedAt = *ss.EndTime
		}

		b.Queue(insertResult, ss.ID, p.UserID, p.Username, p.Name, p.Score, ss.QuestionCount,
			domain.Percentage(p.Score, ss.QuestionCount), p.LeftEarly, finishedAt)
	}

	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("archive session %s: %w", ss.ID, err)
		}
	}

	if err := br.Close(); err != nil {
		return fmt.Errorf("archive session %s: %w", ss.ID, err)
	}

	slog.InfoContext(ctx, "archive: session recorded", "session", ss.ID, "results", len(ss.Participants))
	return nil
}

type ListHistoryRequest struct {
	UserID int64
	Limit  int
}

// ListHistory returns a user's archived results, newest first.
func (s *Service) ListHistory(ctx context.Context, req ListHistoryRequest) ([]domain.HistoryEntry, error) {
	const stmt = `
SELECT r.session_id, s.variant_id, s.variant_name, s.is_random, r.score, r.total, r.percentage, r.left_early, r.finished_at
FROM quiz_results r
JOIN quiz_sessions s ON s.id = r.session_id
WHERE r.user_id = $1
ORDER BY r.finished_at DESC
LIMIT $2;`

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := s.db.Query(ctx, stmt, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	hs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.HistoryEntry, error) {
		var h domain.HistoryEntry
		err := r.Scan(&h.SessionID, &h.VariantID, &h.VariantName, &h.IsRandom,
			&h.Score, &h.Total, &h.Percentage, &h.LeftEarly, &h.FinishedAt)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	return hs, nil
}
