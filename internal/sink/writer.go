package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quadpoint/toolengine/internal/docstore"
)

// Breaker tuning shared by all writers.
const (
	failureThreshold = 5
	resetTimeout     = 30 * time.Second
	halfOpenProbes   = 3
)

// Writer stores documents for one sink through a circuit breaker.
type Writer struct {
	name    string
	store   docstore.Store
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewWriter returns a writer named for its sink. A nil logger falls back
// to slog.Default.
func NewWriter(name string, store docstore.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{name: name, store: store, logger: logger}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenProbes,
		Timeout:     resetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("sink breaker state change",
				"sink", name, "from", from.String(), "to", to.String())
		},
	})
	return w
}

// Write stores v at ref. Failures count against the breaker and are
// logged, never surfaced; an open breaker drops the write immediately.
func (w *Writer) Write(ctx context.Context, ref docstore.Ref, v any) {
	_, err := w.breaker.Execute(func() (any, error) {
		return nil, w.store.Set(ctx, ref, v)
	})
	if err != nil {
		w.logger.Warn("sink write dropped",
			"sink", w.name, "ref", ref.String(), "error", err)
	}
}

// State exposes the breaker state for health reporting.
func (w *Writer) State() gobreaker.State {
	return w.breaker.State()
}
