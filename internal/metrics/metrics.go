package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every probe metric. It is separate from the default
// registry so a push carries only the run's own series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// HTTP client metrics
	HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influxq_http_client_requests_total",
			Help: "Total number of outgoing HTTP requests",
		},
		[]string{"client", "method", "status"},
	)

	HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "influxq_http_client_request_duration_seconds",
			Help:    "Outgoing HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"client", "method"},
	)

	// Query metrics
	QueryTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influxq_query_total",
			Help: "Total number of backend queries",
		},
		[]string{"status"}, // status: success, failed, timeout
	)

	QueryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "influxq_query_duration_seconds",
			Help:    "Backend query latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Evaluation metrics
	RecordsEvaluatedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influxq_records_evaluated_total",
			Help: "Total number of records classified",
		},
		[]string{"severity"},
	)

	RecordsSkippedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "influxq_records_skipped_total",
			Help: "Records dropped by client filtering",
		},
	)

	HostsTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "influxq_hosts",
			Help: "Number of hosts returned by the directory",
		},
	)

	// Sink metrics
	EventsSentTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influxq_events_sent_total",
			Help: "Total number of events handed to sinks",
		},
		[]string{"sink", "status"}, // status: success, failed, invalid
	)

	KafkaBytesWritten = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "influxq_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Run metrics
	RunOutcome = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "influxq_run_outcome",
			Help: "Exit status of the last run (0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN)",
		},
	)

	RunFailures = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "influxq_run_failures",
			Help: "Hosts whose query failed during the last run",
		},
	)

	RunDuration = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "influxq_run_duration_seconds",
			Help: "Wall time of the last run",
		},
	)

	// Panic recovery
	PanicsRecovered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "influxq_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)

// Push sends the registry to a Pushgateway under job, replacing any metrics
// previously pushed with the same grouping.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(Registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
