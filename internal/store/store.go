// Package store persists scheduler state between runs. The file-backed
// implementation writes snapshots atomically so a crash mid-save never
// leaves a truncated state file behind.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

const stateFileName = "scheduler-state.json"

// Snapshot is the serializable scheduler state.
type Snapshot struct {
	SavedAt time.Time   `json:"saved_at"`
	Tasks   []task.Task `json:"tasks"`
	Teams   []team.Team `json:"teams"`
}

// Store saves and loads scheduler snapshots.
type Store interface {
	Save(Snapshot) error
	Load() (Snapshot, bool, error)
}

// FileStore persists snapshots as JSON in a directory. The write is
// atomic: data goes to a temporary file first, then is renamed into place.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the snapshot to disk.
func (s *FileStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scheduler state: %w", err)
	}

	target := filepath.Join(s.dir, stateFileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the most recent snapshot. The second return value is false
// when no state file exists yet.
func (s *FileStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, stateFileName))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal scheduler state: %w", err)
	}
	return snap, true, nil
}

// MemoryStore keeps the latest snapshot in memory. Used in tests and when
// persistence is disabled.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
	set  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores the snapshot.
func (s *MemoryStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.set = true
	return nil
}

// Load returns the stored snapshot, if any.
func (s *MemoryStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.set, nil
}
