// Package audit records authentication and authorization decisions
// asynchronously.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions emitted by authkit.
const (
	ActionResolve   = "resolve"
	ActionAuthorize = "authorize"
	ActionLogin     = "login"
	ActionIssue     = "issue_token"
)

// Results emitted by authkit.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is a single auth decision.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Action    string    `json:"action"`
	Method    string    `json:"method,omitempty"` // bearer, api_key, password
	Optional  bool      `json:"optional,omitempty"`
	Result    string    `json:"result"`
	Reason    string    `json:"reason,omitempty"`
	Required  []string  `json:"required,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger fans events out to handlers from a single background goroutine.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithZapHandler adds a handler that writes each event as a structured log
// entry. Denied and failed decisions are logged at warn level.
func WithZapHandler(logger *zap.Logger) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			fields := []zap.Field{
				zap.String("audit_id", e.ID),
				zap.String("action", e.Action),
				zap.String("result", e.Result),
				zap.Time("at", e.Timestamp),
			}
			if e.RequestID != "" {
				fields = append(fields, zap.String("request_id", e.RequestID))
			}
			if e.Username != "" {
				fields = append(fields, zap.String("username", e.Username))
			}
			if e.Method != "" {
				fields = append(fields, zap.String("method", e.Method), zap.Bool("optional", e.Optional))
			}
			if e.Reason != "" {
				fields = append(fields, zap.String("reason", e.Reason))
			}
			if len(e.Required) > 0 {
				fields = append(fields, zap.Strings("required", e.Required))
			}
			if e.Scope != "" {
				fields = append(fields, zap.String("scope", e.Scope))
			}
			if e.Result == ResultSuccess {
				logger.Info("audit", fields...)
				return
			}
			logger.Warn("audit", fields...)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates an audit logger with a queue of bufferSize events
// (default 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(logger)
	}

	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler. It must be called before the first Log.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log queues an event. ID and Timestamp are filled in when empty. Events
// logged after Close are dropped. A nil Logger drops everything.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	case <-l.done:
	}
}

// LogContext is Log with the request ID taken from ctx.
func (l *Logger) LogContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}
	l.Log(event)
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.dispatch(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					l.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) dispatch(e Event) {
	for _, h := range l.handlers {
		h(e)
	}
}

// Close flushes pending events and stops the logger. It is safe to call
// more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

type contextKey string

const contextKeyRequestID contextKey = "audit.request_id"

// RequestID retrieves the request ID from context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}
