// Package memory implements the durable lesson store backing decision
// context: a JSON file mutated only through the store's own operations,
// written atomically, backed up on every load and restorable from the newest
// backup when the primary is corrupt.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
)

const backupStampLayout = "20060102T150405"

// Store owns the persisted lesson aggregate. All mutation goes through its
// methods; concurrent readers get consistent snapshots.
type Store struct {
	mu         sync.RWMutex
	path       string
	backupDir  string
	maxBackups int
	data       *models.MemoryData
}

// NewStore opens (or initializes) the store at path. Load never fails past
// this boundary: an absent file is seeded, a corrupt file is restored from
// the newest backup, and if that also fails the store starts empty and the
// loss is logged. Callers always get a usable store.
func NewStore(path, backupDir string, maxBackups int) *Store {
	s := &Store{
		path:       path,
		backupDir:  backupDir,
		maxBackups: maxBackups,
	}
	s.load()
	return s
}

func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger.S().Infof("Memory file %s not found, seeding initial lessons.", s.path)
		s.data = seedData()
		if err := s.persist(s.data); err != nil {
			logger.S().Errorf("Failed to persist seeded memory: %v", err)
		}
		return
	}
	if err != nil {
		logger.S().Errorf("Failed to read memory file %s: %v, attempting backup restore.", s.path, err)
		s.data = s.restoreOrEmpty()
		return
	}

	data, verr := decodeAndValidate(raw)
	if verr != nil {
		logger.S().Warnf("Memory file %s failed validation: %v, attempting backup restore.", s.path, verr)
		s.data = s.restoreOrEmpty()
		return
	}

	// Snapshot the primary before this run starts mutating it. Only valid
	// files are backed up, so a corrupt primary can never poison the
	// restore chain.
	s.writeBackup(raw)
	s.data = data
	logger.S().Infof("Loaded %d lessons from %s (last id L%03d).", len(data.Lessons), s.path, data.LastLessonID)
}

// decodeAndValidate parses raw bytes and checks the top-level shape. A
// metadata count that disagrees with the lesson slice marks the file corrupt,
// except for legacy files that carry no metadata at all, whose metadata is
// recomputed.
func decodeAndValidate(raw []byte) (*models.MemoryData, error) {
	var data models.MemoryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if data.Lessons == nil {
		return nil, fmt.Errorf("missing lessons array")
	}
	if data.LastLessonID < 0 {
		return nil, fmt.Errorf("negative last_lesson_id %d", data.LastLessonID)
	}
	if data.Metadata.CreatedAt.IsZero() && data.Metadata.LessonCount == 0 {
		data.Metadata = models.MemoryMetadata{
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
			LessonCount: len(data.Lessons),
		}
	} else if data.Metadata.LessonCount != len(data.Lessons) {
		return nil, fmt.Errorf("metadata count %d != %d lessons", data.Metadata.LessonCount, len(data.Lessons))
	}
	return &data, nil
}

// restoreOrEmpty tries backups newest-first and falls back to an empty but
// valid store. It never returns nil.
func (s *Store) restoreOrEmpty() *models.MemoryData {
	for _, name := range s.backupsNewestFirst() {
		raw, err := os.ReadFile(filepath.Join(s.backupDir, name))
		if err != nil {
			continue
		}
		data, verr := decodeAndValidate(raw)
		if verr != nil {
			logger.S().Warnf("Backup %s also invalid: %v", name, verr)
			continue
		}
		logger.S().Infof("Restored %d lessons from backup %s.", len(data.Lessons), name)
		if err := s.persist(data); err != nil {
			logger.S().Errorf("Failed to re-persist restored memory: %v", err)
		}
		return data
	}

	logger.S().Error("No usable backup found, starting with an empty memory store. Previous lessons are lost.")
	now := time.Now()
	empty := &models.MemoryData{
		Lessons:      []models.Lesson{},
		LastLessonID: 0,
		Metadata:     models.MemoryMetadata{CreatedAt: now, UpdatedAt: now},
	}
	if err := s.persist(empty); err != nil {
		logger.S().Errorf("Failed to persist empty memory store: %v", err)
	}
	return empty
}

// persist writes data atomically: marshal to a temp file in the same
// directory, fsync, then rename over the primary. The previous primary is
// never observable half-written.
func (s *Store) persist(data *models.MemoryData) error {
	data.Metadata.UpdatedAt = time.Now()
	data.Metadata.LessonCount = len(data.Lessons)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".memory-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp memory file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp memory file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp memory file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}

// writeBackup copies raw primary bytes into a timestamped backup and prunes
// the oldest beyond maxBackups. Backup failure is logged, never fatal.
func (s *Store) writeBackup(raw []byte) {
	if s.backupDir == "" {
		return
	}
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		logger.S().Warnf("Failed to create backup directory %s: %v", s.backupDir, err)
		return
	}
	name := fmt.Sprintf("memory_%s.json", time.Now().Format(backupStampLayout))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), raw, 0644); err != nil {
		logger.S().Warnf("Failed to write memory backup: %v", err)
		return
	}
	s.pruneBackups()
}

func (s *Store) backupsNewestFirst() []string {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 7 && name[:7] == "memory_" && filepath.Ext(name) == ".json" {
			names = append(names, name)
		}
	}
	// The timestamp in the name sorts lexicographically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (s *Store) pruneBackups() {
	if s.maxBackups <= 0 {
		return
	}
	names := s.backupsNewestFirst()
	for i := s.maxBackups; i < len(names); i++ {
		if err := os.Remove(filepath.Join(s.backupDir, names[i])); err != nil {
			logger.S().Warnf("Failed to prune backup %s: %v", names[i], err)
		}
	}
}

// snapshot returns a deep copy of the current data for mutation or for
// handing out query results without holding the lock.
func (s *Store) snapshot() *models.MemoryData {
	cp := *s.data
	cp.Lessons = make([]models.Lesson, len(s.data.Lessons))
	copy(cp.Lessons, s.data.Lessons)
	for i := range cp.Lessons {
		if cp.Lessons[i].Tags != nil {
			tags := make([]string, len(cp.Lessons[i].Tags))
			copy(tags, cp.Lessons[i].Tags)
			cp.Lessons[i].Tags = tags
		}
	}
	return &cp
}

// commit persists a mutated snapshot and, only on success, makes it the
// current state. A failed write leaves both the file and the in-memory state
// at the previous version.
func (s *Store) commit(next *models.MemoryData) error {
	if err := s.persist(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Count returns the number of lessons currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Lessons)
}

// LastLessonID returns the id counter (next lesson gets counter+1).
func (s *Store) LastLessonID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.LastLessonID
}

// CheckWritable probes the store directory with a throwaway file. Used by the
// health monitor.
func (s *Store) CheckWritable() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// Reload re-runs the full load sequence (seed/restore/fallback). Used by the
// health monitor's repair path.
func (s *Store) Reload() {
	s.load()
}
