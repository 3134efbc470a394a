package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEventBuffer        = 64
	defaultMaxRestartAttempts = 3
	defaultRestartBaseDelay   = 200 * time.Millisecond
)

// ErrRegistration is returned by New when a directory cannot be watched.
var ErrRegistration = errors.New("cannot watch directory")

type Options struct {
	// Reconnect rebuilds the OS watcher after an error instead of reporting
	// it straight away. The error is reported once every attempt has failed.
	Reconnect          bool
	MaxRestartAttempts int
	RestartBaseDelay   time.Duration

	EventBuffer int
}

// Source watches a set of directory trees and turns fsnotify events into
// ChangeEvents. Directories created under a watched root are added as they
// appear.
type Source struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	dirs    *DirRegistry
	options Options

	events    chan ChangeEvent
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

// New registers every root recursively. Any root that is missing or not a
// directory fails the whole call.
func New(roots []string, options Options) (*Source, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no directories given", ErrRegistration)
	}
	if options.MaxRestartAttempts <= 0 {
		options.MaxRestartAttempts = defaultMaxRestartAttempts
	}
	if options.RestartBaseDelay <= 0 {
		options.RestartBaseDelay = defaultRestartBaseDelay
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = defaultEventBuffer
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to start watcher: %w", err)
	}

	s := &Source{
		fsw:     fsw,
		dirs:    NewDirRegistry(),
		options: options,
		events:  make(chan ChangeEvent, options.EventBuffer),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	var g errgroup.Group
	for _, root := range roots {
		g.Go(func() error {
			return s.addTree(root)
		})
	}
	if err := g.Wait(); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go s.forward(fsw)

	return s, nil
}

func (s *Source) Events() <-chan ChangeEvent {
	return s.events
}

func (s *Source) Errors() <-chan error {
	return s.errors
}

// Watched returns the directories currently registered.
func (s *Source) Watched() []string {
	return s.dirs.Paths()
}

func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.current().Close()
	})
	return err
}

func (s *Source) current() *fsnotify.Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsw
}

func (s *Source) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrRegistration, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w %s: not a directory", ErrRegistration, root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("%w %s: %w", ErrRegistration, root, err)
			}
			slog.Warn("Skipping inaccessible path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.addDir(path); err != nil {
			return fmt.Errorf("%w %s: %w", ErrRegistration, path, err)
		}
		return nil
	})
}

func (s *Source) addDir(dir string) error {
	if s.dirs.Has(dir) {
		return nil
	}
	if err := s.current().Add(dir); err != nil {
		return err
	}
	s.dirs.Record(dir)
	slog.Debug("Watching directory", "path", dir)
	return nil
}

func (s *Source) forward(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				s.closed()
				return
			}

			slog.Debug("Filesystem event", "Op", ev.Op, "Name", ev.Name)

			change := fromFsnotify(ev)
			switch change.Kind {
			case Created:
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := s.addTree(ev.Name); err != nil {
						slog.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			case Removed:
				s.dirs.Delete(ev.Name)
			}

			select {
			case s.events <- change:
			case <-s.done:
				return
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				s.closed()
				return
			}

			slog.Error("Watcher error", "error", err)

			if s.options.Reconnect && s.recover(err) {
				return
			}

			select {
			case s.errors <- err:
			case <-s.done:
			}
			return
		}
	}
}

// closed closes the event channel unless the source itself is shutting down.
func (s *Source) closed() {
	select {
	case <-s.done:
	default:
		close(s.events)
	}
}

// recover rebuilds the OS watcher with exponential backoff. On success a new
// forwarder owns the event channel and true is returned.
func (s *Source) recover(cause error) bool {
	for attempt := 0; attempt < s.options.MaxRestartAttempts; attempt++ {
		delay := restartDelay(s.options.RestartBaseDelay, attempt)
		slog.Warn("Rebuilding watcher", "attempt", attempt+1, "delay", delay, "error", cause)

		select {
		case <-time.After(delay):
		case <-s.done:
			return false
		}

		replacement, err := s.rebuild()
		if err != nil {
			cause = err
			continue
		}

		go s.forward(replacement)
		slog.Info("Watcher rebuilt", "directories", len(s.dirs.Paths()))
		return true
	}

	slog.Error("Giving up on watcher", "attempts", s.options.MaxRestartAttempts, "error", cause)
	return false
}

func (s *Source) rebuild() (*fsnotify.Watcher, error) {
	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range s.dirs.Paths() {
		if err := replacement.Add(dir); err != nil {
			slog.Warn("Dropping directory from watch", "path", dir, "error", err)
			s.dirs.Delete(dir)
		}
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = replacement.Close()
		return nil, errors.New("watcher closed")
	default:
	}
	previous := s.fsw
	s.fsw = replacement
	s.mu.Unlock()

	_ = previous.Close()
	return replacement, nil
}

func restartDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}
