package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skillgen/internal/db"
	"github.com/sells-group/skillgen/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	library       TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'running',
	attempts      INTEGER NOT NULL DEFAULT 0,
	best_attempt  INTEGER NOT NULL DEFAULT -1,
	reason        TEXT NOT NULL DEFAULT '',
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	calls         INTEGER NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attempts (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	idx             INTEGER NOT NULL,
	patterns_tested INTEGER NOT NULL DEFAULT 0,
	patterns_passed INTEGER NOT NULL DEFAULT 0,
	review_passed   BOOLEAN,
	passed          BOOLEAN NOT NULL DEFAULT false,
	feedback        TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_library ON runs(library);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, lib model.LibraryMetadata, provider string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, library, version, provider, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, lib.Name, lib.Version, provider, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, attempts = $2, best_attempt = $3, reason = $4,
			input_tokens = $5, output_tokens = $6, calls = $7, cost_usd = $8, updated_at = $9
		WHERE id = $10`,
		string(result.Status), result.Attempts, result.BestAttempt, result.Reason,
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.Calls, result.CostUSD,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	n := 1

	next := func() string {
		p := "$" + strconv.Itoa(n)
		n++
		return p
	}

	if filter.Status != "" {
		query += ` AND status = ` + next()
		args = append(args, string(filter.Status))
	}
	if filter.Library != "" {
		query += ` AND library = ` + next()
		args = append(args, filter.Library)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ` + next()
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ` + next()
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ` + next()
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// RecordAttempt inserts the attempt and advances the run's attempt count in
// one transaction.
func (s *PostgresStore) RecordAttempt(ctx context.Context, rec *model.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO attempts (`+attemptColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.RunID, rec.Index, rec.PatternsTested, rec.PatternsPassed, rec.ReviewPassed, rec.Passed,
			rec.Feedback, rec.Error, rec.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE runs SET attempts = GREATEST(attempts, $1), updated_at = $2 WHERE id = $3`,
			rec.Index+1, rec.CreatedAt, rec.RunID,
		)
		return err
	})
	return eris.Wrapf(err, "postgres: record attempt for run %s", rec.RunID)
}

func (s *PostgresStore) ListAttempts(ctx context.Context, runID string) ([]model.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list attempts for run %s", runID)
	}
	defer rows.Close()

	var out []model.AttemptRecord
	for rows.Next() {
		var a model.AttemptRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Index, &a.PatternsTested, &a.PatternsPassed, &a.ReviewPassed,
			&a.Passed, &a.Feedback, &a.Error, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &r.Library, &r.Version, &r.Provider, &status, &r.Attempts, &r.BestAttempt,
		&r.Reason, &r.Usage.InputTokens, &r.Usage.OutputTokens, &r.Usage.Calls, &r.CostUSD,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}
