// Package logging provides structured logging for the service layer.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

// Context keys populated by the caller boundary.
const (
	TraceIDKey   contextKey = "trace_id"
	UserIDKey    contextKey = "user_id"
	ServiceIDKey contextKey = "service_id"
	RoleKey      contextKey = "role"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer
}

// Logger wraps logrus with request-context helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a logger from cfg.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Logger: l, component: component}
}

// NewDefault creates an info-level JSON logger on stdout.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info"})
}

// NewNop creates a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return New("nop", Config{Level: "panic", Output: io.Discard})
}

// Named returns a logger for a sub-component sharing the same sink.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithContext returns an entry annotated with the identifiers carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	e := l.entry()
	if ctx == nil {
		return e
	}
	if v := GetTraceID(ctx); v != "" {
		e = e.WithField(string(TraceIDKey), v)
	}
	if v := GetUserID(ctx); v != "" {
		e = e.WithField(string(UserIDKey), v)
	}
	if v := GetServiceID(ctx); v != "" {
		e = e.WithField(string(ServiceIDKey), v)
	}
	return e.WithContext(ctx)
}

// WithError returns an entry carrying err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

// WithFields returns an entry carrying fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(logrus.Fields(fields))
}

// LogSecurityEvent records an access-control relevant event at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}

// LogRequest records one served HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("HTTP request")
	case status >= 400:
		entry.Warn("HTTP request")
	default:
		entry.Info("HTTP request")
	}
}

// WithTraceID stores a trace id on ctx, generating one when id is empty.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID returns the trace id stored on ctx.
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// GetUserID returns the user id stored on ctx.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// WithServiceID stores the calling internal service id on ctx.
func WithServiceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ServiceIDKey, id)
}

// GetServiceID returns the service id stored on ctx.
func GetServiceID(ctx context.Context) string {
	return stringValue(ctx, ServiceIDKey)
}

// WithRole stores the caller's role on ctx.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole returns the role stored on ctx.
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
