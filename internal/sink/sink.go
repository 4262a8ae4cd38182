package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"influxq/internal/models"
)

// DefaultSocket is the local agent's client socket
const DefaultSocket = "127.0.0.1:3030"

// udpWriteTimeout bounds one datagram write
const udpWriteTimeout = time.Second

// Sink errors
var (
	ErrSinkClosed = errors.New("sink is closed")
)

// Sink delivers one event envelope
type Sink interface {
	Name() string
	Send(ctx context.Context, envelope *models.Envelope) error
	Close() error
}

// Line is the wire form of an event: its JSON object and a newline
func Line(event *models.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return append(data, '\n'), nil
}

// UDPSink sends each event as one datagram to the local agent
type UDPSink struct {
	addr   string
	conn   net.Conn
	closed atomic.Bool
}

// NewUDPSink resolves addr. UDP is connectionless so no agent needs to be
// listening yet.
func NewUDPSink(addr string) (*UDPSink, error) {
	if addr == "" {
		addr = DefaultSocket
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPSink{addr: addr, conn: conn}, nil
}

func (s *UDPSink) Name() string { return "udp" }

// Send writes one datagram. The write has its own deadline; the run's query
// timeout does not apply to delivery.
func (s *UDPSink) Send(_ context.Context, envelope *models.Envelope) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}

	data, err := Line(envelope.Event)
	if err != nil {
		return err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(udpWriteTimeout)); err != nil {
		return fmt.Errorf("send to %s: %w", s.addr, err)
	}

	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("send to %s: %w", s.addr, err)
	}
	return nil
}

func (s *UDPSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// WriterSink writes event lines to w, used for dry runs
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Name() string { return "stdout" }

func (s *WriterSink) Send(_ context.Context, envelope *models.Envelope) error {
	data, err := Line(envelope.Event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	_, err = s.w.Write(data)
	return err
}

// Close stops further writes; the writer itself is left open
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
