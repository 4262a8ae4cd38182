package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"influxq/internal/models"
)

// MockSink records envelopes for testing
type MockSink struct {
	mu        sync.Mutex
	name      string
	envelopes []*models.Envelope
	sendErr   error
	closed    bool
}

func (m *MockSink) Name() string { return m.name }

func (m *MockSink) Send(_ context.Context, envelope *models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.envelopes = append(m.envelopes, envelope)
	return nil
}

func (m *MockSink) Close() error {
	m.closed = true
	return nil
}

func TestUDPSinkDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	s, err := NewUDPSink(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPSink() error = %v", err)
	}
	defer s.Close()

	event := models.NewEvent("influxdb-q-load", "web1", models.SeverityCritical, "load - Value: 12 (value >= 10)", []string{"default"})
	if err := s.Send(context.Background(), models.NewEnvelope(&event, "run", "node")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	buf := make([]byte, 65535)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}

	data := buf[:n]
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Errorf("datagram must end with a newline: %q", data)
	}

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["name"] != "influxdb-q-load" || got["source"] != "web1" || got["status"] != float64(2) {
		t.Errorf("unexpected payload %v", got)
	}
	if got["output"] != "CRITICAL: load - Value: 12 (value >= 10)" {
		t.Errorf("output = %v", got["output"])
	}
	if _, ok := got["run_id"]; ok {
		t.Error("the agent payload must not carry envelope fields")
	}
}

func TestUDPSinkIgnoresExpiredContext(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	s, err := NewUDPSink(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPSink() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	event := models.NewEvent("check", "web1", models.SeverityOK, "fine", nil)
	if err := s.Send(ctx, models.NewEnvelope(&event, "run", "node")); err != nil {
		t.Fatalf("Send() after the context deadline error = %v", err)
	}

	buf := make([]byte, 65535)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := pc.ReadFrom(buf); err != nil {
		t.Fatalf("read datagram: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Send(context.Background(), models.NewEnvelope(&event, "run", "node")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Send() after Close error = %v, want ErrSinkClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	event := models.NewEvent("check", "", models.SeverityOK, "fine", nil)
	event.Normalize()
	if err := s.Send(context.Background(), models.NewEnvelope(&event, "", "")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := `{"name":"check","status":0,"output":"OK: fine","handlers":[]}` + "\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	_ = s.Close()
	if err := s.Send(context.Background(), models.NewEnvelope(&event, "", "")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Send() after Close error = %v, want ErrSinkClosed", err)
	}
	if buf.String() != want {
		t.Errorf("closed sink wrote %q", buf.String())
	}
}

func TestEmitterFanOut(t *testing.T) {
	primary := &MockSink{name: "primary"}
	mirror := &MockSink{name: "mirror"}
	e := NewEmitter(primary, mirror, nil)
	e.SetRunID("run-42")

	if !e.Emit(context.Background(), models.NewEvent("disk space/root", "web1", models.SeverityWarning, "low", []string{" ", "mail"})) {
		t.Fatal("Emit() = false for a valid event")
	}

	if len(primary.envelopes) != 1 || len(mirror.envelopes) != 1 {
		t.Fatalf("primary=%d mirror=%d, want 1 each", len(primary.envelopes), len(mirror.envelopes))
	}

	env := primary.envelopes[0]
	if env.RunID != "run-42" {
		t.Errorf("RunID = %q", env.RunID)
	}
	if env.PartitionKey != "web1" {
		t.Errorf("PartitionKey = %q", env.PartitionKey)
	}
	if env.Event.Name != "disk_space_root" {
		t.Errorf("event name not normalized: %q", env.Event.Name)
	}
	if len(env.Event.Handlers) != 1 || env.Event.Handlers[0] != "mail" {
		t.Errorf("handlers = %v", env.Event.Handlers)
	}

	stats := e.Stats()
	if stats.Emitted != 1 || stats.Delivered != 1 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestEmitterSwallowsDeliveryErrors(t *testing.T) {
	primary := &MockSink{name: "primary", sendErr: errors.New("connection refused")}
	mirror := &MockSink{name: "mirror"}
	e := NewEmitter(primary, mirror)

	if !e.Emit(context.Background(), models.NewEvent("check", "web1", models.SeverityOK, "fine", nil)) {
		t.Error("Emit() = false; delivery failures still count as emitted")
	}

	if len(mirror.envelopes) != 1 {
		t.Error("mirror should still receive the event when the primary fails")
	}
	stats := e.Stats()
	if stats.Emitted != 1 || stats.Failed != 1 || stats.Delivered != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestEmitterDropsInvalid(t *testing.T) {
	primary := &MockSink{name: "primary"}
	e := NewEmitter(primary)

	if e.Emit(context.Background(), models.NewEvent("   ", "web1", models.SeverityOK, "fine", nil)) {
		t.Error("Emit() = true for an empty name")
	}
	if e.Emit(context.Background(), models.NewEvent("check", "web1", models.Severity(9), "fine", nil)) {
		t.Error("Emit() = true for an invalid severity")
	}

	if len(primary.envelopes) != 0 {
		t.Errorf("invalid events must not be delivered, got %d", len(primary.envelopes))
	}
	if stats := e.Stats(); stats.Invalid != 2 || stats.Emitted != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestEmitterConcurrentEmit(t *testing.T) {
	primary := &MockSink{name: "primary"}
	e := NewEmitter(primary)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(context.Background(), models.NewEvent("check", "web1", models.SeverityOK, "fine", nil))
		}()
	}
	wg.Wait()

	if got := e.Stats().Emitted; got != 50 {
		t.Errorf("Emitted = %d, want 50", got)
	}
}

func TestEmitterClose(t *testing.T) {
	primary := &MockSink{name: "primary"}
	mirror := &MockSink{name: "mirror"}
	if err := NewEmitter(primary, mirror).Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !primary.closed || !mirror.closed {
		t.Error("all sinks must be closed")
	}
}

func TestNATSSinkConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	_, err = NewNATSSink("nats://"+addr, "influxq.events")
	if err == nil || !strings.Contains(err.Error(), "NATS") {
		t.Errorf("NewNATSSink() error = %v, want connection error", err)
	}

	if _, err := NewNATSSink("nats://"+addr, ""); err == nil {
		t.Error("expected an error for an empty subject")
	}
}
