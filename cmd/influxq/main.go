package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"influxq/internal/config"
	"influxq/internal/directory"
	"influxq/internal/influx"
	"influxq/internal/kafka"
	"influxq/internal/logger"
	"influxq/internal/metrics"
	"influxq/internal/models"
	"influxq/internal/probe"
	"influxq/internal/sink"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes one check and returns the process exit status
func run(args []string, stdout io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		return fail(stdout, err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := influx.NewClient(influx.Config{
		Host:               cfg.InfluxDB.Host,
		Port:               cfg.InfluxDB.Port,
		UseSSL:             cfg.InfluxDB.UseSSL,
		Database:           cfg.InfluxDB.Database,
		Username:           cfg.InfluxDB.Username,
		Password:           cfg.InfluxDB.Password,
		Timeout:            cfg.Run.Timeout,
		InsecureSkipVerify: cfg.InfluxDB.InsecureSkipVerify,
	})
	if err != nil {
		return fail(stdout, err)
	}
	defer backend.Close()

	dir, err := newDirectory(cfg)
	if err != nil {
		return fail(stdout, err)
	}

	emitter, err := newEmitter(cfg, stdout)
	if err != nil {
		return fail(stdout, err)
	}

	p, err := probe.New(cfg, probe.Deps{
		Backend:   backend,
		Directory: dir,
		Emitter:   emitter,
	})
	if err != nil {
		emitter.Close()
		return fail(stdout, err)
	}

	out := p.Run(ctx)

	// Flush the mirrors before reporting
	if err := emitter.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event sinks")
	}
	stats := emitter.Stats()
	log.Debug().
		Uint64("emitted", stats.Emitted).
		Uint64("delivered", stats.Delivered).
		Uint64("failed", stats.Failed).
		Uint64("invalid", stats.Invalid).
		Msg("events sent")

	fmt.Fprintln(stdout, out.String())

	if cfg.Metrics.PushgatewayURL != "" {
		pushMetrics(cfg, out)
	}

	return out.Severity.ExitCode()
}

// fail reports a configuration or startup problem in the check result format
func fail(stdout io.Writer, err error) int {
	fmt.Fprintf(stdout, "%s: %v\n", models.SeverityUnknown, err)
	return models.SeverityUnknown.ExitCode()
}

func newDirectory(cfg *config.Config) (directory.Directory, error) {
	if !cfg.UsesDirectory() {
		return nil, nil
	}

	switch cfg.Directory.Kind {
	case config.DirectorySensu:
		return directory.NewSensuDirectory(directory.SensuConfig{
			Host:     cfg.Directory.Sensu.Host,
			Port:     cfg.Directory.Sensu.Port,
			User:     cfg.Directory.Sensu.User,
			Password: cfg.Directory.Sensu.Password,
			Timeout:  cfg.Run.Timeout,
		}), nil
	case config.DirectoryConsul:
		d, err := directory.NewConsulDirectory(directory.ConsulConfig{
			Address:     cfg.Directory.Consul.Address,
			Token:       cfg.Directory.Consul.Token,
			Datacenters: cfg.Directory.Consul.Datacenters,
		})
		if err != nil {
			return nil, &config.Error{Option: "consul-addr", Err: err}
		}
		return d, nil
	default:
		return nil, nil
	}
}

// newEmitter wires the agent socket, or stdout for dry runs, plus the
// optional Kafka and NATS mirrors
func newEmitter(cfg *config.Config, stdout io.Writer) (*sink.Emitter, error) {
	log := logger.WithComponent("main")

	if cfg.Run.DryRun {
		return sink.NewEmitter(sink.NewWriterSink(stdout)), nil
	}

	primary, err := sink.NewUDPSink(cfg.Socket)
	if err != nil {
		return nil, &config.Error{Option: "socket", Err: err}
	}

	var mirrors []sink.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
		if err != nil {
			primary.Close()
			return nil, &config.Error{Option: "kafka-brokers", Err: err}
		}
		mirrors = append(mirrors, producer)
		log.Debug().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka mirror enabled")
	}
	if cfg.NATS.URL != "" {
		natsSink, err := sink.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			// Mirrors are best effort; the check still reports to the agent
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("nats mirror disabled")
		} else {
			mirrors = append(mirrors, natsSink)
		}
	}

	return sink.NewEmitter(primary, mirrors...), nil
}

func pushMetrics(cfg *config.Config, out probe.Outcome) {
	log := logger.WithComponent("main")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	grouping := map[string]string{"check": cfg.Check.NamePrefix + cfg.Check.CheckName}
	if node, err := os.Hostname(); err == nil {
		grouping["instance"] = node
	}

	if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, grouping); err != nil {
		log.Warn().Err(err).Str("run_id", out.RunID).Msg("failed to push metrics")
	}
}
