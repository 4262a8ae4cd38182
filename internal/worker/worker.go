package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"influxq/internal/logger"
	"influxq/internal/metrics"
)

// Handler processes one host. A returned error counts as that host's
// failure.
type Handler interface {
	Handle(ctx context.Context, host string) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, host string) error

func (f HandlerFunc) Handle(ctx context.Context, host string) error {
	return f(ctx, host)
}

// Pool runs a handler for every host with a fixed number of workers. One
// host failing or panicking never affects the others.
type Pool struct {
	handler Handler
	workers int

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Handler Handler
	Workers int
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Pool{
		handler: cfg.Handler,
		workers: cfg.Workers,
	}
}

// Run processes hosts and blocks until every started host is done. Once ctx
// ends no further hosts are started.
func (p *Pool) Run(ctx context.Context, hosts []string) Stats {
	log := logger.WithComponent("worker_pool")
	start := time.Now()

	workers := p.workers
	if workers > len(hosts) {
		workers = len(hosts)
	}

	log.Debug().
		Int("workers", workers).
		Int("hosts", len(hosts)).
		Msg("starting worker pool")

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, jobs, &wg)
	}

feed:
	for _, host := range hosts {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- host:
		}
	}
	close(jobs)
	wg.Wait()

	stats := p.Stats()
	log.Debug().
		Uint64("processed", stats.Processed).
		Uint64("failed", stats.Failed).
		Dur("duration", time.Since(start)).
		Msg("worker pool finished")

	return stats
}

// worker processes hosts from the channel
func (p *Pool) worker(ctx context.Context, id int, jobs <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()

	for host := range jobs {
		// Drain without processing once the run is over
		if ctx.Err() != nil {
			continue
		}
		if err := p.process(ctx, id, host); err != nil {
			p.failed.Add(1)
		}
		p.processed.Add(1)
	}
}

// process runs the handler for one host, turning a panic into an error
func (p *Pool) process(ctx context.Context, id int, host string) (err error) {
	log := logger.WithComponent("worker").With().
		Int("worker_id", id).
		Str("host", host).
		Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.panics.Add(1)
			err = fmt.Errorf("panic while processing %s: %v", host, r)
		}
	}()

	if err := p.handler.Handle(ctx, host); err != nil {
		log.Warn().Err(err).Msg("host failed")
		return err
	}
	return nil
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64
	Failed    uint64
	Panics    uint64
}
