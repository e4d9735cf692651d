package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

const (
	currentFile   = "current.json"
	versionPrefix = "v"
)

// Store implements ports.CheckpointStore using the local filesystem.
//
// Each session is a directory holding one immutable JSON file per checkpoint
// version plus current.json, a copy of the newest version that is replaced
// atomically.
type Store struct {
	BasePath string
	mu       sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".espalier/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".espalier", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) dir(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("sessionID cannot be empty")
	}
	if strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid sessionID %q", sessionID)
	}
	return filepath.Join(s.BasePath, sessionID), nil
}

func versionName(v int) string {
	return fmt.Sprintf("%s%010d.json", versionPrefix, v)
}

// Save writes the checkpoint as a new version file and then points
// current.json at it.
func (s *Store) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	current, err := readCheckpoint(filepath.Join(dir, currentFile))
	switch {
	case err == nil:
		if current.Version >= cp.Version {
			return fmt.Errorf("%w: session %s has version %d, got %d",
				domain.ErrStaleCheckpoint, sessionID, current.Version, cp.Version)
		}
	case !os.IsNotExist(err):
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := writeAtomic(dir, versionName(cp.Version), data); err != nil {
		return err
	}
	return writeAtomic(dir, currentFile, data)
}

// writeAtomic writes data to dir/name through a temp file, fsync and rename.
func writeAtomic(dir, name string, data []byte) error {
	destPath := filepath.Join(dir, name)

	// Same directory: rename is only atomic within one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", name, err)
	}
	return nil
}

func readCheckpoint(path string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", filepath.Base(path), err)
	}
	return &cp, nil
}

// Load retrieves the newest checkpoint.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return nil, err
	}
	cp, err := readCheckpoint(filepath.Join(dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return cp, nil
}

// History returns every version file of the session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, versionPrefix) && filepath.Ext(name) == ".json" {
			names = append(names, name)
		}
	}
	sort.Strings(names) // zero-padded, so lexical order is version order

	out := make([]*domain.Checkpoint, 0, len(names))
	for _, name := range names {
		cp, err := readCheckpoint(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the session directory.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all session IDs that have a current checkpoint.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.BasePath, entry.Name(), currentFile)); err == nil {
			sessions = append(sessions, entry.Name())
		}
	}
	return sessions, nil
}
