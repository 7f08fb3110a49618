package monitor

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/statwatch/internal/anomaly"
	"github.com/headline-goat/statwatch/internal/metrics"
	"github.com/headline-goat/statwatch/internal/store"
)

type Option func(*Engine)

// WithStore enables history resume and write-through.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

func WithDetector(d *anomaly.Detector) Option {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithRandSource sets the source factory used by Monte Carlo estimation.
// Each pass calls it once.
func WithRandSource(f func() rand.Source) Option {
	return func(e *Engine) { e.newSource = f }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
