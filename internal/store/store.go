// Package store persists the run ledger: one row per generation run and one
// per attempt within it.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Library      string          `json:"library,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, lib model.LibraryMetadata, provider string) (*model.Run, error)
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Attempts
	RecordAttempt(ctx context.Context, rec *model.AttemptRecord) error
	ListAttempts(ctx context.Context, runID string) ([]model.AttemptRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg, migrated and ready. It returns a
// nil Store for the "none" driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
