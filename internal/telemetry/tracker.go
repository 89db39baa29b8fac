package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/pipeline"
)

// DefaultRefreshInterval is how often the Tracker recomputes pipeline gauges.
const DefaultRefreshInterval = time.Minute

// Tracker periodically aggregates every deal and publishes per-stage gauges.
type Tracker struct {
	metrics  *Metrics
	deals    pipeline.DealReader
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker returns a Tracker, or nil when metrics are disabled (m is nil).
// A nil Tracker is safe to Start and Shutdown.
func NewTracker(m *Metrics, deals pipeline.DealReader, interval time.Duration, logger *slog.Logger) *Tracker {
	if m == nil {
		return nil
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{metrics: m, deals: deals, interval: interval, logger: logger}
}

// Start refreshes once and then on every interval until Shutdown.
// Non-blocking.
func (t *Tracker) Start() {
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		t.Refresh(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the refresh loop and waits for it to exit.
func (t *Tracker) Shutdown() {
	if t == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Refresh recomputes the pipeline gauges. Failures keep the previous values.
func (t *Tracker) Refresh(ctx context.Context) {
	res, err := pipeline.Load(ctx, t.deals, model.DealFilter{}, pipeline.SortNone)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("pipeline metrics refresh failed", "error", err)
		}
		return
	}
	for _, s := range res.Stages {
		label := s.Stage.String()
		t.metrics.StageDeals.WithLabelValues(label).Set(float64(s.Count))
		t.metrics.StageValue.WithLabelValues(label).Set(s.Total.InexactFloat64())
	}
	t.metrics.ExcludedDeals.Set(float64(res.Excluded))
}
