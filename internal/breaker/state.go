package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// persistedHost is the serialized form of one host's circuit state.
type persistedHost struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

type stateFile struct {
	Hosts map[string]persistedHost `json:"hosts"`
}

// persistLocked writes breaker state to disk via temp-file-then-rename.
// Persistence failures are logged, never fatal: an open circuit losing its
// durability downgrades to in-memory behavior, nothing worse.
// Callers must hold b.mu.
func (b *Breaker) persistLocked() {
	if b.cfg.StatePath == "" {
		return
	}
	out := stateFile{Hosts: make(map[string]persistedHost, len(b.hosts))}
	for host, hs := range b.hosts {
		out.Hosts[host] = persistedHost{
			State:       hs.State,
			Failures:    hs.Failures,
			LastFailure: hs.LastFailure,
		}
	}
	if err := writeAtomic(b.cfg.StatePath, out); err != nil {
		b.logger.Warn("persist breaker state failed", zap.Error(err))
	}
}

// Flush persists current state unconditionally, for shutdown paths.
func (b *Breaker) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persistLocked()
}

// restore loads persisted state. A missing file is a fresh start; a corrupt
// file is an error so a bad deploy does not silently drop open circuits.
func (b *Breaker) restore() error {
	if b.cfg.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(b.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read breaker state: %w", err)
	}
	var in stateFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode breaker state: %w", err)
	}
	for host, ph := range in.Hosts {
		b.hosts[host] = &hostState{
			State:       ph.State,
			Failures:    ph.Failures,
			LastFailure: ph.LastFailure,
		}
	}
	b.logger.Info("restored breaker state", zap.Int("hosts", len(b.hosts)))
	return nil
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
