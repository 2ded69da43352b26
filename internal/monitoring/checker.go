package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates the ledger on a ticker and posts new alerts. An alert
// type that was delivered is held back until its cooldown passes, so a
// condition that persists across ticks is reported once per cooldown.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		lastSent:  map[AlertType]time.Time{},
	}
}

// Run checks once immediately, then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	zap.L().Info("monitoring: alert checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one evaluation and returns the alerts that were due for
// delivery, whether or not a webhook is configured.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect metrics", zap.Error(err))
		return nil
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return nil
	}
	if c.alerter.Send(ctx, due) {
		c.markSent(due)
	}
	zap.L().Info("monitoring: alerts triggered", zap.Int("alerts", len(due)))
	return due
}

func (c *Checker) cooldown() time.Duration {
	return time.Duration(c.cfg.AlertCooldownMins) * time.Minute
}

func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown() {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}
