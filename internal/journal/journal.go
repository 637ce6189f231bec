// Package journal keeps the append-only decision/audit log: one entry per
// session attempt, capped to a fixed retained count with the oldest dropped
// first.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
)

// Entry is one recorded session attempt.
type Entry struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Phase     string            `json:"phase"` // final phase the session reached
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Decision  *models.Decision  `json:"decision,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Pips      float64           `json:"pips,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Journal persists entries as a JSON array, newest last.
type Journal struct {
	mu      sync.Mutex
	path    string
	cap     int
	entries []Entry
}

// NewJournal opens the journal at path. A missing or corrupt file starts
// empty; the journal is an audit aid, never a reason to refuse startup.
func NewJournal(path string, capEntries int) *Journal {
	j := &Journal{path: path, cap: capEntries}
	raw, err := os.ReadFile(path)
	if err == nil {
		if uerr := json.Unmarshal(raw, &j.entries); uerr != nil {
			logger.S().Warnf("Journal file %s is corrupt, starting fresh: %v", path, uerr)
			j.entries = nil
		}
	}
	return j
}

// Append records an entry, assigns it an id and persists. Entries beyond the
// cap are dropped oldest-first.
func (j *Journal) Append(e Entry) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	j.entries = append(j.entries, e)
	if j.cap > 0 && len(j.entries) > j.cap {
		j.entries = j.entries[len(j.entries)-j.cap:]
	}
	if err := j.persist(); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Entries returns a copy of the retained entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Len returns the retained entry count.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func (j *Journal) persist() error {
	raw, err := json.MarshalIndent(j.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp journal file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp journal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp journal file: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace journal file: %w", err)
	}
	return nil
}
