// Package probe runs one check: it queries the backend, classifies every
// result record and emits one event per record, then reduces the run to a
// single outcome.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"influxq/internal/alerts"
	"influxq/internal/config"
	"influxq/internal/directory"
	"influxq/internal/influx"
	"influxq/internal/interpolate"
	"influxq/internal/logger"
	"influxq/internal/metrics"
	"influxq/internal/models"
	"influxq/internal/valuepath"
	"influxq/internal/worker"
)

// Emitter delivers events and reports whether the event was accepted.
// Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, event models.Event) bool
}

// runTagger is implemented by emitters that stamp envelopes with the run ID
type runTagger interface {
	SetRunID(runID string)
}

// Deps are the collaborators of a probe. Directory may be nil when the run
// does not need it.
type Deps struct {
	Backend   influx.Querier
	Directory directory.Directory
	Emitter   Emitter
}

// Probe is a compiled check, ready to run
type Probe struct {
	cfg       *config.Config
	backend   influx.Querier
	directory directory.Directory
	emitter   Emitter

	path      *valuepath.Path
	rule      alerts.Rule
	checkName *interpolate.Template
	message   *interpolate.Template

	// Explicit record path of the host in single mode; nil means look up
	// the host field at the top level, then under tags
	hostPath []string
}

// New compiles the value path, thresholds and templates of cfg. Every
// problem found here is a *config.Error.
func New(cfg *config.Config, deps Deps) (*Probe, error) {
	if deps.Backend == nil || deps.Emitter == nil {
		return nil, errors.New("probe needs a backend and an emitter")
	}
	if cfg.UsesDirectory() && deps.Directory == nil {
		return nil, &config.Error{Option: "directory", Err: fmt.Errorf("%w: no client directory configured", config.ErrMissing)}
	}

	p := &Probe{
		cfg:       cfg,
		backend:   deps.Backend,
		directory: deps.Directory,
		emitter:   deps.Emitter,
	}

	var err error
	if p.path, err = valuepath.Compile(cfg.Check.JSONPath); err != nil {
		return nil, &config.Error{Option: "json-path", Err: err}
	}

	if p.rule, err = alerts.NewRule(cfg.Check.Critical, cfg.Check.Warning); err != nil {
		option := "warn"
		var condErr *alerts.ConditionError
		if errors.As(err, &condErr) && condErr.Condition == "critical" {
			option = "crit"
		}
		return nil, &config.Error{Option: option, Err: err}
	}

	if p.checkName, err = interpolate.Compile(cfg.Check.CheckName); err != nil {
		return nil, &config.Error{Option: "check-name", Err: err}
	}
	if p.message, err = interpolate.Compile(cfg.Check.Message); err != nil {
		return nil, &config.Error{Option: "msg", Err: err}
	}

	if strings.Contains(cfg.Run.HostField, ".") {
		p.hostPath = strings.Split(cfg.Run.HostField, ".")
		for _, seg := range p.hostPath {
			if seg == "" {
				return nil, &config.Error{Option: "host-field", Err: fmt.Errorf("%w: empty segment in %q", config.ErrInvalid, cfg.Run.HostField)}
			}
		}
	}

	return p, nil
}

// Outcome is the reduced result of one run
type Outcome struct {
	Severity models.Severity
	Message  string
	RunID    string

	Hosts    int
	Failures int
	Records  int
	Skipped  int
	Events   int
	TimedOut bool
	Canceled bool
}

// String renders the check result line
func (o Outcome) String() string {
	return o.Severity.String() + ": " + o.Message
}

// tally collects per-run counters; hosts may be processed concurrently
type tally struct {
	records  atomic.Int64
	skipped  atomic.Int64
	events   atomic.Int64
	queried  atomic.Int64
	timedOut atomic.Bool
}

// Run executes the check once
func (p *Probe) Run(ctx context.Context) Outcome {
	runID := uuid.NewString()
	log := logger.WithRunID(runID).With().Str("component", "probe").Logger()
	start := time.Now()

	if t, ok := p.emitter.(runTagger); ok {
		t.SetRunID(runID)
	}

	log.Debug().
		Str("mode", string(p.cfg.Run.Mode)).
		Dur("timeout", p.cfg.Run.Timeout).
		Msg("run started")

	var out Outcome
	if p.cfg.Run.Mode == config.ModeSingle {
		out = p.runSingle(ctx, log)
	} else {
		out = p.runPerHost(ctx, log)
	}
	out.RunID = runID

	duration := time.Since(start)
	metrics.RunOutcome.Set(float64(out.Severity.ExitCode()))
	metrics.RunFailures.Set(float64(out.Failures))
	metrics.RunDuration.Set(duration.Seconds())

	log.Info().
		Str("severity", out.Severity.String()).
		Int("hosts", out.Hosts).
		Int("failures", out.Failures).
		Int("records", out.Records).
		Int("events", out.Events).
		Bool("timed_out", out.TimedOut).
		Dur("duration", duration).
		Msg(out.Message)

	return out
}

func (p *Probe) runPerHost(ctx context.Context, log zerolog.Logger) Outcome {
	hosts, err := p.listHosts(ctx)
	if err != nil {
		if p.cfg.Run.RequireClients {
			return unknown("client directory unavailable: %v", err)
		}
		log.Warn().Err(err).Msg("client directory unavailable, no hosts to query")
	}
	metrics.HostsTotal.Set(float64(hosts.Len()))

	if hosts.Len() == 0 {
		return unknown("no clients to query")
	}

	phaseCtx, cancel := context.WithTimeout(ctx, p.cfg.Run.Timeout)
	defer cancel()

	field := p.cfg.Run.HostField
	if p.hostPath != nil {
		field = p.hostPath[len(p.hostPath)-1]
	}

	var t tally
	pool := worker.NewPool(worker.Config{
		Workers: p.cfg.Run.Concurrency,
		Handler: worker.HandlerFunc(func(ctx context.Context, host string) error {
			t.queried.Add(1)
			query := influx.RewriteForHost(p.cfg.Check.Query, field, host)
			records, err := p.query(ctx, query)
			if err != nil {
				if errors.Is(err, influx.ErrTimeout) {
					t.timedOut.Store(true)
				}
				return fmt.Errorf("query for %s: %w", host, err)
			}

			emitCtx := context.WithoutCancel(ctx)
			for _, rec := range records {
				p.evaluate(emitCtx, rec, host, &t)
			}
			return nil
		}),
	})
	stats := pool.Run(phaseCtx, hosts.Hosts())

	out := Outcome{
		Hosts:    hosts.Len(),
		Failures: int(stats.Failed),
	}
	p.collect(&out, &t)

	// Hosts never queried because the phase ran out also make the run
	// incomplete.
	timedOut := t.timedOut.Load() ||
		(errors.Is(phaseCtx.Err(), context.DeadlineExceeded) && int(t.queried.Load()) < out.Hosts)
	p.markInterrupted(ctx, timedOut, &out)

	return p.conclude(out, fmt.Sprintf("Query executed successfully for %d clients", out.Hosts))
}

func (p *Probe) runSingle(ctx context.Context, log zerolog.Logger) Outcome {
	var known directory.HostSet
	if p.cfg.Run.FilterClients {
		hosts, err := p.listHosts(ctx)
		switch {
		case err != nil && p.cfg.Run.RequireClients:
			return unknown("client directory unavailable: %v", err)
		case err != nil:
			log.Warn().Err(err).Msg("client directory unavailable, not filtering records")
		case hosts.Len() == 0:
			log.Warn().Msg("client directory is empty, not filtering records")
		default:
			known = hosts
		}
		metrics.HostsTotal.Set(float64(hosts.Len()))
	}

	phaseCtx, cancel := context.WithTimeout(ctx, p.cfg.Run.Timeout)
	defer cancel()

	var (
		t   tally
		out Outcome
	)

	records, err := p.query(phaseCtx, p.cfg.Check.Query)
	if err != nil {
		log.Error().Err(err).Msg("query failed")
		out.Failures = 1
	}

	emitCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		source := p.recordHost(rec)
		if known.Len() > 0 && !known.Contains(source) {
			t.skipped.Add(1)
			metrics.RecordsSkippedTotal.Inc()
			continue
		}
		p.evaluate(emitCtx, rec, source, &t)
	}

	p.collect(&out, &t)
	p.markInterrupted(ctx, errors.Is(err, influx.ErrTimeout), &out)

	if out.Failures > 0 && !out.TimedOut && !out.Canceled {
		severity := models.SeverityWarning
		if p.rule.HasCritical() {
			severity = models.SeverityCritical
		}
		out.Severity = severity
		out.Message = fmt.Sprintf("Failed to run query: %v", err)
		return out
	}

	return p.conclude(out, fmt.Sprintf("Query executed successfully, %d records evaluated", out.Records))
}

func (p *Probe) listHosts(ctx context.Context) (directory.HostSet, error) {
	if p.directory == nil {
		return directory.HostSet{}, nil
	}
	return directory.Fetch(ctx, p.directory)
}

// query runs the backend query. A result arriving after the deadline is
// discarded so no events are emitted from an abandoned query, and any error
// once the deadline has passed is reported as influx.ErrTimeout.
func (p *Probe) query(ctx context.Context, q string) ([]models.Record, error) {
	records, err := p.backend.Query(ctx, q)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, influx.ErrTimeout):
		return nil, influx.ErrTimeout
	case err != nil:
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return records, nil
}

// evaluate classifies one record and emits its event
func (p *Probe) evaluate(ctx context.Context, rec models.Record, source string, t *tally) {
	value, present := p.path.Extract(rec)
	verdict := p.rule.Classify(value, present)

	name, nameErr := p.checkName.Interpolate(rec)
	msg, msgErr := p.message.Interpolate(rec)

	log := logger.WithComponent("probe")
	if verdict.Err != nil {
		log.Warn().
			Err(verdict.Err).
			Str("source", source).
			Str("check", name).
			Msg("threshold evaluation failed")
	}
	if err := errors.Join(nameErr, msgErr); err != nil {
		log.Warn().
			Err(err).
			Str("source", source).
			Msg("record could not be interpolated")
		verdict = verdict.Unknown(err)
	}

	text := verdict.Detail()
	if msg != "" {
		text = msg + " - " + text
	}

	event := models.NewEvent(p.cfg.Check.NamePrefix+name, source, verdict.Severity, text, p.cfg.Check.Handlers)
	if p.emitter.Emit(ctx, event) {
		t.events.Add(1)
	}

	metrics.RecordsEvaluatedTotal.WithLabelValues(verdict.Severity.String()).Inc()
	t.records.Add(1)
}

// recordHost reads the event source of a record in single mode
func (p *Probe) recordHost(rec models.Record) string {
	if p.hostPath != nil {
		return scalarAt(rec, p.hostPath)
	}
	if node, ok := rec.Field(p.cfg.Run.HostField); ok {
		if host := scalarString(node); host != "" {
			return host
		}
	}
	return scalarAt(rec, []string{"tags", p.cfg.Run.HostField})
}

func scalarAt(rec models.Record, path []string) string {
	node, err := rec.Lookup(path)
	if err != nil {
		return ""
	}
	return scalarString(node)
}

func scalarString(node models.Record) string {
	s, ok := node.Scalar()
	if !ok {
		return ""
	}
	return s.String()
}

func (p *Probe) collect(out *Outcome, t *tally) {
	out.Records = int(t.records.Load())
	out.Skipped = int(t.skipped.Load())
	out.Events = int(t.events.Load())
}

// markInterrupted records whether the whole run was canceled or a query
// ran out of time
func (p *Probe) markInterrupted(parent context.Context, timedOut bool, out *Outcome) {
	switch {
	case parent.Err() != nil:
		out.Canceled = true
	case timedOut:
		out.TimedOut = true
	}
}

// conclude applies the outcome precedence
func (p *Probe) conclude(out Outcome, okMessage string) Outcome {
	switch {
	case out.Canceled:
		out.Severity = models.SeverityUnknown
		out.Message = "run canceled"
	case out.TimedOut:
		out.Severity = models.SeverityUnknown
		out.Message = fmt.Sprintf("query timed out after %s", p.cfg.Run.Timeout)
	case out.Failures > 0:
		out.Severity = models.SeverityWarning
		if p.rule.HasCritical() {
			out.Severity = models.SeverityCritical
		}
		out.Message = fmt.Sprintf("Failed to run query for %d clients", out.Failures)
	case out.Records == 0:
		out.Severity = models.SeverityUnknown
		out.Message = "query held no results"
	default:
		out.Severity = models.SeverityOK
		out.Message = okMessage
	}
	return out
}

func unknown(format string, args ...any) Outcome {
	return Outcome{
		Severity: models.SeverityUnknown,
		Message:  fmt.Sprintf(format, args...),
	}
}
