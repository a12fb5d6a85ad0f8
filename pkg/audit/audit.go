// Package audit records what happened to script documents as they pass
// through the loader: format detection, migration, repair, fallback and
// saves. Events are appended to a JSONL stream in which every line carries
// the SHA-256 of the line before it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates audit event types.
type EventType string

const (
	EventLoad           EventType = "load"
	EventFormatDetected EventType = "format_detected"
	EventMigrated       EventType = "migrated"
	EventRepaired       EventType = "repaired"
	EventFallback       EventType = "fallback"
	EventSaved          EventType = "saved"
)

// Genesis is the prev_hash of the first event in a stream.
var Genesis = strings.Repeat("0", 64)

// Event is one line of the audit stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Session   string         `json:"session"`
	Path      string         `json:"path,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}

// Writer appends events to a stream. A nil *Writer discards everything, so
// callers never need to check whether auditing is enabled.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	session  string
	prevHash string
	now      func() time.Time
}

// NewWriter returns a writer for w with a fresh session id.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:        w,
		session:  uuid.NewString(),
		prevHash: Genesis,
		now:      time.Now,
	}
}

// NewFileWriter opens path for appending. The hash chain restarts at each
// session, so Verify is applied per session.
func NewFileWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Session returns the id stamped on every event of this writer.
func (aw *Writer) Session() string {
	if aw == nil {
		return ""
	}
	return aw.session
}

// Emit writes a single event.
func (aw *Writer) Emit(t EventType, path string, data map[string]any) error {
	if aw == nil {
		return nil
	}
	aw.mu.Lock()
	defer aw.mu.Unlock()

	line, err := json.Marshal(Event{
		Type:      t,
		Timestamp: aw.now().UTC(),
		Session:   aw.session,
		Path:      path,
		Data:      data,
		PrevHash:  aw.prevHash,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if _, err := aw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	h := sha256.Sum256(line)
	aw.prevHash = hex.EncodeToString(h[:])
	return nil
}

// EmitFormat records the detected format of a loaded document.
func (aw *Writer) EmitFormat(path, format string) error {
	return aw.Emit(EventFormatDetected, path, map[string]any{"format": format})
}

// EmitMigrated records a legacy-to-step conversion.
func (aw *Writer) EmitMigrated(path string, actions int, mismatches []string) error {
	data := map[string]any{"action_count": actions}
	if len(mismatches) > 0 {
		data["mismatches"] = mismatches
	}
	return aw.Emit(EventMigrated, path, data)
}

// EmitRepaired records the repairs applied to a document.
func (aw *Writer) EmitRepaired(path string, repairs []string) error {
	return aw.Emit(EventRepaired, path, map[string]any{
		"count":   len(repairs),
		"repairs": repairs,
	})
}

// EmitFallback records that a document was replaced by the fallback script.
func (aw *Writer) EmitFallback(path string, errs []string) error {
	return aw.Emit(EventFallback, path, map[string]any{"errors": errs})
}

// EmitSaved records a successful write.
func (aw *Writer) EmitSaved(path, format string, bytes int) error {
	return aw.Emit(EventSaved, path, map[string]any{"format": format, "bytes": bytes})
}

// Close closes the underlying file, if the writer opened one.
func (aw *Writer) Close() error {
	if aw == nil || aw.closer == nil {
		return nil
	}
	return aw.closer.Close()
}
