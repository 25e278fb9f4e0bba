package admin

import (
	"encoding/json"
	"os"
	"sync"

	domain "github.com/reviewgame/server/internal/app/domain/admin"
)

// Sink receives audit entries for out-of-band persistence. The database
// row remains the authority; sinks are mirrors.
type Sink interface {
	Write(entry domain.AuditEntry) error
}

// auditRing keeps the most recent audit entries in memory so the
// back-office can show activity without a database round trip.
type auditRing struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	max     int
}

func newAuditRing(max int) *auditRing {
	if max <= 0 {
		max = 200
	}
	return &auditRing{max: max}
}

func (r *auditRing) add(entry domain.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

// list returns up to limit entries, oldest first.
func (r *auditRing) list(limit int) []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > r.max {
		limit = r.max
	}
	start := 0
	if len(r.entries) > limit {
		start = len(r.entries) - limit
	}
	out := make([]domain.AuditEntry, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}

// FileSink appends audit entries to a file as JSONL.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the JSONL file at path. An empty path
// returns a nil sink.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Write appends one entry.
func (s *FileSink) Write(entry domain.AuditEntry) error {
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

// Close releases the underlying file.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
