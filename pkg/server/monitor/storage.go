package monitor

import (
	"os"
	"sync"
	"time"
)

// StorageMonitor tracks the database file's size with caching to avoid
// stat calls on every health request.
type StorageMonitor struct {
	path          string
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor for the database at path.
func NewStorageMonitor(path string) *StorageMonitor {
	return &StorageMonitor{
		path:          path,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns the database size in bytes (cached). The WAL sidecar is
// counted too since it holds rows not yet checkpointed into the main file.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	info, err := os.Stat(sm.path)
	if err != nil {
		return 0, err
	}
	usage := info.Size()
	if wal, err := os.Stat(sm.path + "-wal"); err == nil {
		usage += wal.Size()
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}
