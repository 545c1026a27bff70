package importer

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// maxErrorMessageLen bounds individual messages in the persisted error
// list so a deep wrapped chain cannot blow up the stored payload.
const maxErrorMessageLen = 500

// ImportError is one captured per-record failure. Raw carries a snapshot
// of the source payload for immediate log emission only; it is excluded
// from the persisted form.
type ImportError struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

// ErrorList accumulates per-record failures during a run. Errors never
// escape the importer through it; they are flushed once at the end.
type ErrorList struct {
	mu     sync.Mutex
	errors []ImportError
	logger *log.Logger
}

// NewErrorList creates an empty error list.
func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// Record captures one failure and emits it to the structured log together
// with the raw payload snapshot.
func (l *ErrorList) Record(collection, recordID string, err error, raw any) {
	message := truncate(err.Error(), maxErrorMessageLen)

	var snapshot json.RawMessage
	if raw != nil {
		if data, marshalErr := json.Marshal(raw); marshalErr == nil {
			snapshot = data
		}
	}

	l.mu.Lock()
	l.errors = append(l.errors, ImportError{
		Type:    collection,
		ID:      recordID,
		Message: message,
		Raw:     snapshot,
	})
	l.mu.Unlock()

	if snapshot != nil {
		l.logf("import error: type=%s id=%s message=%q raw=%s", collection, recordID, message, snapshot)
	} else {
		l.logf("import error: type=%s id=%s message=%q", collection, recordID, message)
	}
}

// Empty reports whether any errors were recorded.
func (l *ErrorList) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors) == 0
}

// Len returns the number of recorded errors.
func (l *ErrorList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// All returns a copy of the recorded errors.
func (l *ErrorList) All() []ImportError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ImportError, len(l.errors))
	copy(out, l.errors)
	return out
}

// Summary returns the human-readable failure summary.
func (l *ErrorList) Summary() string {
	return fmt.Sprintf("%d records failed to import", l.Len())
}

// Details returns the structured error list as JSON. Raw snapshots are
// dropped; only type, identifier, and message survive persistence.
func (l *ErrorList) Details() (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(l.errors)
	if err != nil {
		return nil, fmt.Errorf("marshal error details: %w", err)
	}
	return data, nil
}

func (l *ErrorList) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
