package httpapi

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// AuditEntry records one finished method invocation.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Tier       string    `json:"tier"`
	Trust      string    `json:"trust"`
	UserID     string    `json:"user_id,omitempty"`
	ServiceID  string    `json:"service_id,omitempty"`
	State      string    `json:"state"`
	Code       string    `json:"code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// AuditLog keeps the most recent invocations in memory. It implements
// service.Observer.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    AuditSink
}

// NewAuditLog keeps at most max entries and forwards each to sink when
// sink is not nil.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

// Observe records terminal transitions.
func (l *AuditLog) Observe(ctx context.Context, t service.Transition) {
	if !t.To.Terminal() {
		return
	}
	entry := AuditEntry{
		Time:       time.Now().UTC(),
		Method:     t.Method.FullName(),
		Tier:       t.Method.Tier.String(),
		Trust:      t.Principal.Trust.String(),
		UserID:     t.Principal.UserID,
		ServiceID:  t.Principal.ServiceID,
		State:      t.To.String(),
		DurationMS: t.Elapsed.Milliseconds(),
		TraceID:    logging.GetTraceID(ctx),
	}
	if se := errors.GetServiceError(t.Err); se != nil {
		entry.Code = string(se.Code)
	} else if t.Err != nil {
		entry.Code = string(errors.CodeInternal)
	}
	l.add(entry)
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; ignore errors to avoid impacting request flow.
		_ = l.sink.Write(entry)
	}
}

// List returns up to limit of the newest entries, oldest first.
func (l *AuditLog) List(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]AuditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// FileAuditSink appends audit entries as JSONL.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens path for appending. An empty path returns a nil
// sink.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAuditSink{file: f}, nil
}

func (s *FileAuditSink) Write(entry AuditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
