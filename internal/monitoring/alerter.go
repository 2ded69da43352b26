package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "failure_rate"
	AlertStuckRuns   AlertType = "stuck_runs"
	AlertCostOverrun AlertType = "cost_overrun"
)

// minRunsForRate is the sample size below which rates are not alerted on.
const minRunsForRate = 5

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// webhookPayload is the body posted for one check.
type webhookPayload struct {
	Source string  `json:"source"`
	Alerts []Alert `json:"alerts"`
}

type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

var rules = []rule{failureRateRule, stuckRunsRule, costRule}

// Alerter evaluates snapshots against thresholds and posts breaches to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts snap triggers, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if alert := r(a.cfg, snap); alert != nil {
			alert.Timestamp = now
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// Only fatal runs count as failures; an exhausted run still wrote its best
// attempt.
func failureRateRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	finished := snap.RunsSucceeded + snap.RunsExhausted + snap.RunsFailed
	if cfg.FailureRateThreshold <= 0 || finished < minRunsForRate || snap.FailureRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in %s)",
			snap.FailureRate*100, cfg.FailureRateThreshold*100, snap.RunsFailed, finished, window(snap)),
		Details: map[string]any{
			"failure_rate": snap.FailureRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}
}

// A run left in "running" was killed before it could record a result.
func stuckRunsRule(_ config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	finished := snap.RunsSucceeded + snap.RunsExhausted + snap.RunsFailed
	if snap.RunsTotal < minRunsForRate || snap.RunsRunning == 0 || snap.RunsRunning < finished {
		return nil
	}
	return &Alert{
		Type:     AlertStuckRuns,
		Severity: "medium",
		Message:  fmt.Sprintf("%d of %d runs in %s never recorded a result", snap.RunsRunning, snap.RunsTotal, window(snap)),
		Details: map[string]any{
			"running": snap.RunsRunning,
			"total":   snap.RunsTotal,
		},
	}
}

func costRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message:  fmt.Sprintf("Generation cost $%.2f exceeds threshold $%.2f in %s", snap.CostUSD, cfg.CostThresholdUSD, window(snap)),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"runs_total":    snap.RunsTotal,
		},
	}
}

func window(snap *MetricsSnapshot) string {
	if snap.LookbackHours <= 0 {
		return "all time"
	}
	return fmt.Sprintf("last %dh", snap.LookbackHours)
}

// Send posts alerts to the webhook in one request. It reports whether they
// were delivered; without a webhook nothing is sent.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) bool {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return false
	}
	if err := a.post(ctx, webhookPayload{Source: "skillgen", Alerts: alerts}); err != nil {
		zap.L().Error("monitoring: failed to send alerts",
			zap.Int("alerts", len(alerts)),
			zap.Error(err),
		)
		return false
	}
	for _, alert := range alerts {
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return true
}

func (a *Alerter) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
