package audit

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestEventEmission(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	logger.Log(Event{Action: ActionResolve, Result: ResultSuccess, Username: "alice", Method: "bearer"})
	logger.Close()

	events := c.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Username != "alice" {
		t.Errorf("Username = %q, want alice", events[0].Username)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if events[0].ID == "" {
		t.Error("ID should be set")
	}
}

func TestMultipleHandlers(t *testing.T) {
	var c1, c2 collector
	logger := New(10, WithHandler(c1.handle), WithHandler(c2.handle))

	logger.Log(Event{Action: ActionAuthorize, Result: ResultDenied})
	logger.Close()

	if n := len(c1.all()); n != 1 {
		t.Fatalf("handler1: expected 1 event, got %d", n)
	}
	if n := len(c2.all()); n != 1 {
		t.Fatalf("handler2: expected 1 event, got %d", n)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	var c collector
	logger := New(100, WithHandler(c.handle))

	for i := 0; i < 50; i++ {
		logger.Log(Event{Action: ActionResolve, Result: ResultFailure})
	}
	logger.Close()

	if n := len(c.all()); n != 50 {
		t.Errorf("expected 50 events after close, got %d", n)
	}
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))
	logger.Close()
	logger.Close()

	logger.Log(Event{Action: ActionLogin, Result: ResultFailure})

	if n := len(c.all()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	l.Log(Event{Action: ActionLogin})
	if err := l.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestLogContextRequestID(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	ctx := WithRequestID(context.Background(), "req-42")
	logger.LogContext(ctx, Event{Action: ActionAuthorize, Result: ResultSuccess})
	logger.Close()

	events := c.all()
	if len(events) != 1 || events[0].RequestID != "req-42" {
		t.Fatalf("events = %+v, want one with request id req-42", events)
	}
}

func TestZapHandlerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := New(10, WithZapHandler(zap.New(core)))

	logger.Log(Event{Action: ActionResolve, Result: ResultSuccess, Username: "alice"})
	logger.Log(Event{Action: ActionAuthorize, Result: ResultDenied, Username: "bob", Required: []string{"write"}})
	logger.Close()

	if n := logs.FilterMessage("audit").Len(); n != 2 {
		t.Fatalf("expected 2 audit entries, got %d", n)
	}
	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warns) != 1 {
		t.Fatalf("expected 1 warn entry, got %d", len(warns))
	}
	if got := warns[0].ContextMap()["username"]; got != "bob" {
		t.Errorf("username = %v, want bob", got)
	}
}
