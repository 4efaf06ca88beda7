// Package lockfile provides filesystem-based mutual exclusion and idempotency
// markers for the ingestion pipeline. Locks are sibling "<path>.lock" files
// created with create-exclusive semantics, so they are correct across separate
// OS processes sharing one input directory, not just across goroutines.
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// LockSuffix is appended to a file path to form its lock file path.
	LockSuffix = ".lock"
	// MarkerSuffix is appended to a file path to form its processed-marker path.
	MarkerSuffix = ".processed"
)

// Coordinator tracks the lock files created by this pipeline instance so they
// can be removed en masse on shutdown or interrupt.
type Coordinator struct {
	mu     sync.Mutex
	held   map[string]struct{}
	logger *zap.Logger // optional; when set, logs lock events
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for lock acquisition and cleanup events.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a lock coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{held: make(map[string]struct{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockPath returns the lock file path for path.
func LockPath(path string) string { return path + LockSuffix }

// MarkerPath returns the processed-marker path for path.
func MarkerPath(path string) string { return path + MarkerSuffix }

// Acquire attempts exclusive, atomic creation of the lock file for path.
// Returns false if the lock already exists. The create-exclusive call is the
// single source of truth; there is no separate existence check beforehand.
// On any other OS-level failure the coordinator logs a warning and proceeds
// without a lock rather than failing the task.
func (c *Coordinator) Acquire(path string) bool {
	lockPath := LockPath(path)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			if c.logger != nil {
				c.logger.Debug("lock held by another process", zap.String("path", path))
			}
			return false
		}
		if c.logger != nil {
			c.logger.Warn("lock creation failed, proceeding without lock",
				zap.String("path", path), zap.Error(err))
		}
		return true
	}
	fmt.Fprintf(f, "locked at %s\n", time.Now().Format(time.RFC3339))
	_ = f.Close()

	c.mu.Lock()
	c.held[lockPath] = struct{}{}
	c.mu.Unlock()
	return true
}

// Release removes the lock file for path if present. Idempotent: a missing
// lock file is a no-op and never an error.
func (c *Coordinator) Release(path string) {
	lockPath := LockPath(path)
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if c.logger != nil {
			c.logger.Warn("lock release failed", zap.String("path", path), zap.Error(err))
		}
	}
	c.mu.Lock()
	delete(c.held, lockPath)
	c.mu.Unlock()
}

// CleanupAll removes every lock file created by this coordinator instance.
// Invoked on normal batch completion and on interrupt signals.
func (c *Coordinator) CleanupAll() {
	c.mu.Lock()
	paths := make([]string, 0, len(c.held))
	for p := range c.held {
		paths = append(paths, p)
	}
	c.held = make(map[string]struct{})
	c.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if c.logger != nil {
				c.logger.Warn("lock cleanup failed", zap.String("lock", p), zap.Error(err))
			}
		}
	}
	if c.logger != nil && len(paths) > 0 {
		c.logger.Debug("removed lock files", zap.Int("count", len(paths)))
	}
}

// IsProcessed reports whether a processed marker exists for path.
func (c *Coordinator) IsProcessed(path string) bool {
	_, err := os.Stat(MarkerPath(path))
	return err == nil
}

// IsRecentlyProcessed reports whether a processed marker exists for path and is
// newer than the given window.
func (c *Coordinator) IsRecentlyProcessed(path string, within time.Duration) bool {
	info, err := os.Stat(MarkerPath(path))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= within
}

// PurgeStaleMarkers removes processed markers in dir older than olderThan.
// Run once at pipeline startup as defensive cleanup against crashed prior
// runs; a stale marker is not interpreted as work still in progress.
// Returns the number of markers removed.
func (c *Coordinator) PurgeStaleMarkers(dir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory: %w", err)
	}
	removed := 0
	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), MarkerSuffix) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(full); err != nil {
			if c.logger != nil {
				c.logger.Warn("stale marker removal failed", zap.String("marker", full), zap.Error(err))
			}
			continue
		}
		removed++
	}
	if c.logger != nil && removed > 0 {
		c.logger.Debug("purged stale markers", zap.String("dir", dir), zap.Int("count", removed))
	}
	return removed, nil
}
