// Package checkpoint provides durable CheckpointStore implementations. Every
// backend guarantees atomic replacement: a reader never observes a
// half-written progress record.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pip-arch/url-compliance-checker/internal/batch"
)

// FileConfig captures the parameters for the filesystem checkpoint store.
type FileConfig struct {
	// Dir is the directory holding one JSON document per batch.
	Dir string `mapstructure:"dir"`
}

// FileStore persists batch progress as JSON files, replaced atomically via
// write-to-temp-then-rename.
type FileStore struct {
	dir string
}

// NewFileStore creates the checkpoint directory if needed and verifies it is
// writable, failing fast on bad configuration.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}
	return &FileStore{dir: cfg.Dir}, nil
}

// Save writes the snapshot for batchID, atomically replacing any prior one.
func (s *FileStore) Save(_ context.Context, batchID string, snap batch.ProgressSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	path := s.path(batchID)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the snapshot for batchID, returning batch.ErrCheckpointNotFound
// when no run has been recorded.
func (s *FileStore) Load(_ context.Context, batchID string) (batch.ProgressSnapshot, error) {
	data, err := os.ReadFile(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return batch.ProgressSnapshot{}, batch.ErrCheckpointNotFound
		}
		return batch.ProgressSnapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var snap batch.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return batch.ProgressSnapshot{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}

// Exists reports whether a checkpoint exists for batchID.
func (s *FileStore) Exists(_ context.Context, batchID string) (bool, error) {
	_, err := os.Stat(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}
	return true, nil
}

func (s *FileStore) path(batchID string) string {
	// Batch IDs are caller-supplied; escape them so they stay single path
	// segments.
	return filepath.Join(s.dir, url.PathEscape(batchID)+".json")
}
