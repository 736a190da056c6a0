package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/adgate/internal/config"
)

// AnomalyDetector watches the ratio of blocked-to-allowed operations over a
// sliding window. A spike in blocked requests (vague prompts, cap violations,
// unauthorized accounts) is a security signal worth alerting on, not just a
// UX problem.
type AnomalyDetector struct {
	mu      sync.Mutex
	blocked map[string]*slidingWindow
	allowed map[string]*slidingWindow
	cfg     *config.AnomalyConfig
	logger  *slog.Logger
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		blocked: make(map[string]*slidingWindow),
		allowed: make(map[string]*slidingWindow),
		cfg:     cfg,
		logger:  logger,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// RecordBlocked records a refused operation for anomaly tracking.
func (a *AnomalyDetector) RecordBlocked(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.blocked, operation)
	w.add(1)
	a.checkBlockRate(operation)
}

// RecordAllowed records an operation that passed the safety pipeline.
func (a *AnomalyDetector) RecordAllowed(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.allowed, operation)
	w.add(1)
}

// checkBlockRate checks if the block rate exceeds the configured threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkBlockRate(operation string) {
	threshold := a.cfg.BlockRateThreshold
	if threshold <= 0 {
		return
	}

	blocked := a.getOrCreateWindow(a.blocked, operation).sum()
	allowed := a.getOrCreateWindow(a.allowed, operation).sum()
	total := blocked + allowed

	if total < 5 {
		return // Not enough data.
	}

	rate := blocked / total
	if rate > threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high block rate",
			slog.String("operation", operation),
			slog.Float64("block_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("blocked", blocked),
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
