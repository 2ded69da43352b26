package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/skillgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	library       TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'running',
	attempts      INTEGER NOT NULL DEFAULT 0,
	best_attempt  INTEGER NOT NULL DEFAULT -1,
	reason        TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	calls         INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attempts (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	idx             INTEGER NOT NULL,
	patterns_tested INTEGER NOT NULL DEFAULT 0,
	patterns_passed INTEGER NOT NULL DEFAULT 0,
	review_passed   INTEGER,
	passed          INTEGER NOT NULL DEFAULT 0,
	feedback        TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_library ON runs(library);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);
`

const runColumns = `id, library, version, provider, status, attempts, best_attempt, reason,
	input_tokens, output_tokens, calls, cost_usd, created_at, updated_at`

const attemptColumns = `id, run_id, idx, patterns_tested, patterns_passed, review_passed, passed,
	feedback, error, created_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, lib model.LibraryMetadata, provider string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, library, version, provider, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, lib.Name, lib.Version, provider, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          id,
		Library:     lib.Name,
		Version:     lib.Version,
		Provider:    provider,
		Status:      model.RunStatusRunning,
		BestAttempt: -1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, attempts = ?, best_attempt = ?, reason = ?,
			input_tokens = ?, output_tokens = ?, calls = ?, cost_usd = ?, updated_at = ?
		WHERE id = ?`,
		string(result.Status), result.Attempts, result.BestAttempt, result.Reason,
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.Calls, result.CostUSD,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Library != "" {
		query += ` AND library = ?`
		args = append(args, filter.Library)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RecordAttempt inserts the attempt and advances the run's attempt count in
// one transaction.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, rec *model.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var review sql.NullBool
	if rec.ReviewPassed != nil {
		review = sql.NullBool{Bool: *rec.ReviewPassed, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Index, rec.PatternsTested, rec.PatternsPassed, review, rec.Passed,
		rec.Feedback, rec.Error, rec.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert attempt for run %s", rec.RunID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET attempts = MAX(attempts, ?), updated_at = ? WHERE id = ?`,
		rec.Index+1, rec.CreatedAt, rec.RunID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update attempts for run %s", rec.RunID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attempt")
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]model.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list attempts for run %s", runID)
	}
	defer rows.Close()

	var out []model.AttemptRecord
	for rows.Next() {
		var a model.AttemptRecord
		var review sql.NullBool
		if err := rows.Scan(&a.ID, &a.RunID, &a.Index, &a.PatternsTested, &a.PatternsPassed, &review,
			&a.Passed, &a.Feedback, &a.Error, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		if review.Valid {
			a.ReviewPassed = &review.Bool
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.Library, &r.Version, &r.Provider, &r.Status, &r.Attempts, &r.BestAttempt,
		&r.Reason, &r.Usage.InputTokens, &r.Usage.OutputTokens, &r.Usage.Calls, &r.CostUSD,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	return &r, nil
}
