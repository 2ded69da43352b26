package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, st store.Store) (succeeded, exhausted string) {
	t.Helper()
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, model.LibraryMetadata{Name: "requests", Version: "2.31.0", Ecosystem: "python"}, "anthropic")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunResult(ctx, r1.ID, &model.RunResult{
		Status: model.RunStatusSucceeded, Attempts: 1, BestAttempt: 0,
		Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 50, Calls: 5}, CostUSD: 0.02,
	}))
	require.NoError(t, st.RecordAttempt(ctx, &model.AttemptRecord{RunID: r1.ID, Index: 0, PatternsTested: 3, PatternsPassed: 3, Passed: true}))

	r2, err := st.CreateRun(ctx, model.LibraryMetadata{Name: "lodash", Version: "4.17.21", Ecosystem: "javascript"}, "gemini")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunResult(ctx, r2.ID, &model.RunResult{
		Status: model.RunStatusExhausted, Attempts: 2, BestAttempt: 1, Reason: "retries exhausted",
	}))
	return r1.ID, r2.ID
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := New(newTestStore(t), 24).Handler()
	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRuns(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	h := New(st, 24).Handler()

	var body struct {
		Runs  []model.Run `json:"runs"`
		Count int         `json:"count"`
	}

	rec := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	rec = get(t, h, "/runs?status=exhausted")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "lodash", body.Runs[0].Library)

	rec = get(t, h, "/runs?library=requests&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, model.RunStatusSucceeded, body.Runs[0].Status)
}

func TestListRuns_Empty(t *testing.T) {
	rec := get(t, New(newTestStore(t), 24).Handler(), "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())
}

func TestListRuns_BadParams(t *testing.T) {
	h := New(newTestStore(t), 24).Handler()
	for _, path := range []string{"/runs?limit=abc", "/runs?limit=0", "/runs?offset=-1", "/runs?status=weird"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(t, h, path).Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	st := newTestStore(t)
	id, _ := seed(t, st)
	h := New(st, 24).Handler()

	rec := get(t, h, "/runs/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "requests", run.Library)
	assert.Equal(t, int64(100), run.Usage.InputTokens)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/missing").Code)
}

func TestListAttempts(t *testing.T) {
	st := newTestStore(t)
	id, other := seed(t, st)
	h := New(st, 24).Handler()

	rec := get(t, h, "/runs/"+id+"/attempts")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunID    string                `json:"run_id"`
		Attempts []model.AttemptRecord `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body.RunID)
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, 3, body.Attempts[0].PatternsPassed)

	rec = get(t, h, "/runs/"+other+"/attempts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempts":[]`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/missing/attempts").Code)
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	h := New(st, 24).Handler()

	rec := get(t, h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		RunsTotal     int     `json:"runs_total"`
		RunsSucceeded int     `json:"runs_succeeded"`
		RunsExhausted int     `json:"runs_exhausted"`
		CostUSD       float64 `json:"cost_usd"`
		LookbackHours int     `json:"lookback_hours"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsSucceeded)
	assert.Equal(t, 1, snap.RunsExhausted)
	assert.InDelta(t, 0.02, snap.CostUSD, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)

	rec = get(t, h, "/stats?lookback_hours=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lookback_hours":0`)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/stats?lookback_hours=x").Code)
}

type failingStore struct{ store.Store }

func (failingStore) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return nil, errors.New("db down")
}

func TestListRuns_StoreError(t *testing.T) {
	rec := get(t, New(failingStore{}, 24).Handler(), "/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := New(newTestStore(t), 24).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
