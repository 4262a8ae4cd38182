package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"influxq/internal/logger"
	"influxq/internal/models"
)

// NATSSink mirrors event envelopes to a NATS subject
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to url. Publishing uses core NATS: a probe run is
// short lived and the mirror is best effort.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	log := logger.WithComponent("nats_sink")

	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}

	nc, err := nats.Connect(url,
		nats.Name("influxq"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(2),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Debug().
		Str("url", nc.ConnectedUrl()).
		Str("subject", subject).
		Msg("connected to nats")

	return &NATSSink{nc: nc, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(_ context.Context, envelope *models.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set("Run-Id", envelope.RunID)
	msg.Header.Set("Source", envelope.PartitionKey)

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection
func (s *NATSSink) Close() error {
	defer s.nc.Close()
	if err := s.nc.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}
