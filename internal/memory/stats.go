package memory

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pipPattern extracts a signed pip quantity from a result string, e.g.
// "+22 pips" or "-50.5 pips". Results that do not match contribute to counts
// but not to the pip total.
var pipPattern = regexp.MustCompile(`([+-]?\d+(?:\.\d+)?)\s*pips`)

// Stats is an aggregate view over the whole store.
type Stats struct {
	Total        int
	ByType       map[string]int
	ByRelevance  map[int]int
	ByResult     map[string]int
	ByTag        map[string]int
	Wins         int
	Losses       int
	TotalPips    float64
	LastLessonID int
}

// ParsePips extracts the signed pip quantity embedded in a result string.
func ParsePips(result string) (float64, bool) {
	m := pipPattern.FindStringSubmatch(strings.ToLower(result))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Stats computes the aggregate over all lessons. A lesson is a win when its
// result embeds a positive pip quantity, a loss when negative; everything
// else counts in neither column.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	st := Stats{
		Total:        len(snap.Lessons),
		ByType:       map[string]int{},
		ByRelevance:  map[int]int{},
		ByResult:     map[string]int{},
		ByTag:        map[string]int{},
		LastLessonID: snap.LastLessonID,
	}
	for _, l := range snap.Lessons {
		st.ByType[l.Type]++
		st.ByRelevance[l.Relevance]++
		st.ByResult[l.Result]++
		for _, t := range l.Tags {
			st.ByTag[t]++
		}
		if pips, ok := ParsePips(l.Result); ok {
			st.TotalPips += pips
			if pips > 0 {
				st.Wins++
			} else if pips < 0 {
				st.Losses++
			}
		}
	}
	return st
}

// ExportCSV writes every lesson to a CSV file and returns the path written.
// An empty path places a timestamped file next to the backups.
func (s *Store) ExportCSV(path string) (string, error) {
	if path == "" {
		path = filepath.Join(s.backupDir, fmt.Sprintf("memory_export_%s.csv", time.Now().Format(backupStampLayout)))
	}

	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "date", "pair", "type", "context", "rule", "result", "relevance", "tags", "created_at", "updated_at"}); err != nil {
		return "", err
	}
	for _, l := range snap.Lessons {
		rec := []string{
			l.ID,
			l.Date,
			l.Pair,
			l.Type,
			l.Context,
			l.Rule,
			l.Result,
			strconv.Itoa(l.Relevance),
			strings.Join(l.Tags, ";"),
			l.CreatedAt.Format(time.RFC3339),
			l.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export: %w", err)
	}
	return path, nil
}
