package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/config"
)

func alertTypes(alerts []Alert) []AlertType {
	out := make([]AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, CostThresholdUSD: 10}

	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{RunsTotal: 10, RunsSucceeded: 9, RunsFailed: 1, FailureRate: 0.1, CostUSD: 2},
			want: []AlertType{},
		},
		{
			name: "failure rate",
			snap: MetricsSnapshot{RunsTotal: 10, RunsSucceeded: 5, RunsFailed: 5, FailureRate: 0.5},
			want: []AlertType{AlertFailureRate},
		},
		{
			name: "too few finished runs",
			snap: MetricsSnapshot{RunsTotal: 4, RunsSucceeded: 1, RunsFailed: 3, FailureRate: 0.75},
			want: []AlertType{},
		},
		{
			name: "exhausted runs do not count as failures",
			snap: MetricsSnapshot{RunsTotal: 10, RunsSucceeded: 2, RunsExhausted: 8, ExhaustRate: 0.8},
			want: []AlertType{},
		},
		{
			name: "stuck runs",
			snap: MetricsSnapshot{RunsTotal: 6, RunsSucceeded: 1, RunsRunning: 5},
			want: []AlertType{AlertStuckRuns},
		},
		{
			name: "cost overrun",
			snap: MetricsSnapshot{RunsTotal: 2, RunsSucceeded: 2, CostUSD: 12.5},
			want: []AlertType{AlertCostOverrun},
		},
		{
			name: "everything",
			snap: MetricsSnapshot{RunsTotal: 20, RunsSucceeded: 1, RunsFailed: 5, RunsRunning: 14, FailureRate: 5.0 / 6.0, CostUSD: 50},
			want: []AlertType{AlertFailureRate, AlertStuckRuns, AlertCostOverrun},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := NewAlerter(cfg).Evaluate(&tt.snap)
			assert.Equal(t, tt.want, alertTypes(alerts))
		})
	}
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{RunsTotal: 10, RunsFailed: 10, FailureRate: 1, CostUSD: 1000})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureMessage(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsTotal: 10, RunsSucceeded: 5, RunsFailed: 5, FailureRate: 0.5, LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
	assert.Contains(t, alerts[0].Message, "5 failed / 10 finished in last 24h")
	assert.Equal(t, 5, alerts[0].Details["failed"])
}

func TestAlerter_Send(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var got webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "skillgen", got.Source)
		if assert.Len(t, got.Alerts, 2) {
			assert.Equal(t, AlertFailureRate, got.Alerts[0].Type)
			assert.Equal(t, AlertCostOverrun, got.Alerts[1].Type)
		}
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	ok := a.Send(context.Background(), []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "a"},
		{Type: AlertCostOverrun, Severity: "high", Message: "b"},
	})
	assert.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAlerter_Send_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	assert.False(t, a.Send(context.Background(), []Alert{{Type: AlertFailureRate}}))
}

func TestAlerter_Send_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.False(t, a.Send(context.Background(), []Alert{{Type: AlertFailureRate}}))
	assert.False(t, NewAlerter(config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1"}).Send(context.Background(), nil))
}
