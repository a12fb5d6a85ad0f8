package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const maxLine = 1024 * 1024

// ReadEvents decodes every event in r.
func ReadEvents(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLine), maxLine)

	var events []Event
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return events, fmt.Errorf("event %d: %w", n, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read audit: %w", err)
	}
	return events, nil
}

// VerifyResult is the outcome of checking an audit stream.
type VerifyResult struct {
	EventCount int
	Sessions   int
	Valid      bool
	BrokenAt   int // -1 if no break
	Error      string
}

// VerifyFile checks the hash chain of an audit file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks that every event's prev_hash matches the previous line of
// the same session. A new session starts a new chain at Genesis.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLine), maxLine)

	prev := map[string]string{}
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, len(prev), fmt.Sprintf("event %d: invalid JSON: %v", count, err)), nil
		}
		want, seen := prev[evt.Session]
		if !seen {
			want = Genesis
		}
		if evt.PrevHash != want {
			return broken(count, len(prev), fmt.Sprintf("event %d: prev_hash mismatch in session %s", count, evt.Session)), nil
		}
		h := sha256.Sum256(line)
		prev[evt.Session] = hex.EncodeToString(h[:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	return &VerifyResult{EventCount: count, Sessions: len(prev), Valid: true, BrokenAt: -1}, nil
}

func broken(at, sessions int, msg string) *VerifyResult {
	return &VerifyResult{EventCount: at, Sessions: sessions, Valid: false, BrokenAt: at, Error: msg}
}
