package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/config"
)

// AnomalyDetector flags agent roles whose task failure rate exceeds a
// threshold within a sliding window. It consumes agent audit entries.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	flagged       map[string]bool
	cfg           *config.AnomalyConfig
	logger        *slog.Logger
}

var _ agent.AuditSink = (*AnomalyDetector)(nil)

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// minSamples is the number of outcomes required before a rate is judged.
const minSamples = 5

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	if cfg == nil {
		cfg = &config.AnomalyConfig{}
	}
	return &AnomalyDetector{
		errorCounts:   make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		flagged:       make(map[string]bool),
		cfg:           cfg,
		logger:        logger,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// Write implements agent.AuditSink. Completed and failed task events feed
// the per-role windows; other events are ignored.
func (a *AnomalyDetector) Write(_ context.Context, e agent.AuditEntry) error {
	switch e.Event {
	case agent.EventTaskCompleted:
		a.RecordSuccess(e.AgentRole)
	case agent.EventTaskFailed:
		a.RecordError(e.AgentRole)
	}
	return nil
}

// RecordError records a failed execution for anomaly tracking.
func (a *AnomalyDetector) RecordError(key string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.errorCounts, key)
	w.add(1)
	a.checkErrorRate(key)
}

// RecordSuccess records a successful execution.
func (a *AnomalyDetector) RecordSuccess(key string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.successCounts, key)
	w.add(1)
	a.checkErrorRate(key)
}

// Flagged reports whether key currently exceeds the threshold.
func (a *AnomalyDetector) Flagged(key string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flagged[key]
}

// Check returns a health check failing while any key is flagged.
func (a *AnomalyDetector) Check() func(ctx context.Context) error {
	return func(context.Context) error {
		if a == nil {
			return nil
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		for key, bad := range a.flagged {
			if bad {
				return &anomalyError{key: key}
			}
		}
		return nil
	}
}

type anomalyError struct{ key string }

func (e *anomalyError) Error() string { return "high task failure rate for role " + e.key }

// checkErrorRate updates the flag for key and logs on the transition into
// the anomalous state. Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(key string) {
	threshold := a.cfg.ErrorRateThreshold
	if threshold <= 0 {
		return
	}

	errors := a.getOrCreateWindow(a.errorCounts, key).sum()
	successes := a.getOrCreateWindow(a.successCounts, key).sum()
	total := errors + successes

	if total < minSamples {
		a.flagged[key] = false
		return
	}

	rate := errors / total
	was := a.flagged[key]
	a.flagged[key] = rate > threshold
	if a.flagged[key] && !was && a.logger != nil {
		a.logger.Warn("anomaly detected: high task failure rate",
			slog.String("role", key),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("errors", errors),
			slog.Float64("total", total),
		)
	}
}

func (a *AnomalyDetector) getOrCreateWindow(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.windowDuration()}
		m[key] = w
	}
	return w
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(value float64) {
	now := time.Now()
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum() float64 {
	w.prune(time.Now())
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
