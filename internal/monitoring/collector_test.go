package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	runs    []model.Run
	listErr error
	filters []store.RunFilter
	calls   atomic.Int32
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.calls.Add(1)
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Library != "" && r.Library != filter.Library {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func (m *mockStore) CreateRun(context.Context, model.LibraryMetadata, string) (*model.Run, error) {
	return nil, nil
}
func (m *mockStore) UpdateRunResult(context.Context, string, *model.RunResult) error { return nil }
func (m *mockStore) GetRun(context.Context, string) (*model.Run, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) RecordAttempt(context.Context, *model.AttemptRecord) error { return nil }
func (m *mockStore) ListAttempts(context.Context, string) ([]model.AttemptRecord, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

var _ store.Store = (*mockStore)(nil)

func run(lib string, status model.RunStatus, attempts int, cost float64, age time.Duration) model.Run {
	return model.Run{
		ID:        lib + "-" + string(status),
		Library:   lib,
		Status:    status,
		Attempts:  attempts,
		Usage:     model.TokenUsage{InputTokens: 1000, OutputTokens: 200, Calls: 5},
		CostUSD:   cost,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		run("requests", model.RunStatusSucceeded, 1, 0.10, time.Hour),
		run("requests", model.RunStatusExhausted, 4, 0.40, 2*time.Hour),
		run("lodash", model.RunStatusFailed, 1, 0.05, 3*time.Hour),
		run("lodash", model.RunStatusRunning, 2, 0, 10*time.Minute),
		run("old", model.RunStatusFailed, 1, 9.99, 48*time.Hour),
	}}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsSucceeded)
	assert.Equal(t, 1, snap.RunsExhausted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailureRate, 1e-9)
	assert.InDelta(t, 1.0/3.0, snap.ExhaustRate, 1e-9)
	assert.InDelta(t, 2.0, snap.AvgAttempts, 1e-9)
	assert.Equal(t, int64(4000), snap.InputTokens)
	assert.Equal(t, int64(800), snap.OutputTokens)
	assert.Equal(t, 20, snap.Calls)
	assert.InDelta(t, 0.55, snap.CostUSD, 1e-9)
	assert.Equal(t, map[string]int{"requests": 2, "lodash": 2}, snap.Libraries)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())

	require.Len(t, st.filters, 1)
	assert.Equal(t, maxRunsScanned, st.filters[0].Limit)
	assert.False(t, st.filters[0].CreatedAfter.IsZero())
}

func TestCollector_Collect_AllTime(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		run("old", model.RunStatusSucceeded, 1, 1, 500*time.Hour),
	}}

	snap, err := NewCollector(st).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.True(t, st.filters[0].CreatedAfter.IsZero())
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&mockStore{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailureRate)
	assert.Zero(t, snap.AvgAttempts)
}

func TestCollector_Collect_ListError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewCollector(&mockStore{listErr: boom}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
