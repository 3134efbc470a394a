package watcher

import (
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// DirRegistry records which directories are registered with the OS watcher
// and when. A rebuilt watcher is re-registered from it.
type DirRegistry struct {
	mu   sync.Mutex
	dirs map[string]time.Time
}

func NewDirRegistry() *DirRegistry {
	return &DirRegistry{
		dirs: make(map[string]time.Time),
	}
}

func (r *DirRegistry) Record(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[dir] = time.Now()
}

func (r *DirRegistry) Has(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dirs[dir]
	return ok
}

// Delete forgets dir and everything below it and returns how many
// directories were dropped.
func (r *DirRegistry) Delete(dir string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	prefix := strings.TrimSuffix(dir, string(os.PathSeparator)) + string(os.PathSeparator)
	for d, since := range r.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(r.dirs, d)
			removed++
			slog.Debug("Stopped watching directory", "path", d, "watched_for", time.Since(since).Round(time.Millisecond))
		}
	}
	return removed
}

// Paths returns the registered directories in sorted order.
func (r *DirRegistry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.dirs))
}
