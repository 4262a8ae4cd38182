package sink

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"influxq/internal/logger"
	"influxq/internal/metrics"
	"influxq/internal/models"
)

// Emitter normalizes events and hands them to the primary sink and every
// mirror. Delivery problems are logged and counted, never returned: an event
// that could not be delivered does not change the run outcome.
type Emitter struct {
	mu      sync.Mutex
	primary Sink
	mirrors []Sink

	runID string
	node  string

	emitted   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	invalid   atomic.Uint64
}

// NewEmitter creates an emitter; nil mirrors are ignored
func NewEmitter(primary Sink, mirrors ...Sink) *Emitter {
	node, _ := os.Hostname()

	e := &Emitter{primary: primary, node: node}
	for _, m := range mirrors {
		if m != nil {
			e.mirrors = append(e.mirrors, m)
		}
	}
	return e
}

// SetRunID tags subsequent envelopes with the run ID
func (e *Emitter) SetRunID(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runID = runID
}

// Emit delivers one event. It reports false when the event was invalid and
// dropped; delivery failures still count as emitted.
func (e *Emitter) Emit(ctx context.Context, event models.Event) bool {
	log := logger.WithComponent("emitter")

	event.Normalize()
	if err := event.Validate(); err != nil {
		e.invalid.Add(1)
		metrics.EventsSentTotal.WithLabelValues(e.primary.Name(), "invalid").Inc()
		log.Warn().
			Err(err).
			Str("check", event.Name).
			Str("source", event.Source).
			Msg("dropping invalid event")
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	envelope := models.NewEnvelope(&event, e.runID, e.node)
	e.emitted.Add(1)

	if e.send(ctx, e.primary, envelope) {
		e.delivered.Add(1)
	} else {
		e.failed.Add(1)
	}
	for _, m := range e.mirrors {
		e.send(ctx, m, envelope)
	}
	return true
}

func (e *Emitter) send(ctx context.Context, s Sink, envelope *models.Envelope) bool {
	if err := s.Send(ctx, envelope); err != nil {
		metrics.EventsSentTotal.WithLabelValues(s.Name(), "failed").Inc()

		log := logger.WithComponent("emitter")
		log.Error().
			Err(err).
			Str("sink", s.Name()).
			Str("check", envelope.Event.Name).
			Str("source", envelope.Event.Source).
			Msg("failed to deliver event")
		return false
	}

	metrics.EventsSentTotal.WithLabelValues(s.Name(), "success").Inc()
	return true
}

// Close closes the primary sink and the mirrors
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, s := range append([]Sink{e.primary}, e.mirrors...) {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	return Stats{
		Emitted:   e.emitted.Load(),
		Delivered: e.delivered.Load(),
		Failed:    e.failed.Load(),
		Invalid:   e.invalid.Load(),
	}
}

// Stats holds emitter counters. Emitted counts valid events handed to the
// primary sink whether or not delivery succeeded.
type Stats struct {
	Emitted   uint64
	Delivered uint64
	Failed    uint64
	Invalid   uint64
}
