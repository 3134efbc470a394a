// Package controller runs the fwatcher loop: filter each change, consult the
// interval gate, and restart the command when both agree.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/justin-molloy/fwatcher/watcher"
)

var (
	ErrWatchSource  = errors.New("watch source failed")
	ErrSourceClosed = errors.New("watch source closed")
)

// Source delivers change events. watcher.Source satisfies it.
type Source interface {
	Events() <-chan watcher.ChangeEvent
	Errors() <-chan error
}

type Filter interface {
	IsRelevant(name string) bool
}

type Gate interface {
	ShouldAct(now time.Time) bool
	RecordAction(now time.Time)
	Remaining(now time.Time) time.Duration
}

type Supervisor interface {
	Restart() error
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Notices receives a "Modified: <path>" line for every restart whatever
	// the log level. Defaults to os.Stderr.
	Notices io.Writer
}

type Controller struct {
	filter     Filter
	gate       Gate
	supervisor Supervisor
	now        func() time.Time
	notices    io.Writer

	triggers   int
	suppressed int
}

func New(filter Filter, gate Gate, supervisor Supervisor, opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notices := opts.Notices
	if notices == nil {
		notices = os.Stderr
	}
	return &Controller{
		filter:     filter,
		gate:       gate,
		supervisor: supervisor,
		now:        now,
		notices:    notices,
	}
}

// Run starts the command once, then reacts to events from src until ctx is
// cancelled or the source fails. A failed spawn is logged and does not stop
// the loop.
func (c *Controller) Run(ctx context.Context, src Source) error {
	c.spawn()
	c.gate.RecordAction(c.now())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping watch loop", "triggers", c.triggers, "suppressed", c.suppressed)
			return nil

		case ev, ok := <-src.Events():
			if !ok {
				slog.Error("Watch source closed")
				return ErrSourceClosed
			}
			c.Handle(ev)

		case err, ok := <-src.Errors():
			if !ok {
				slog.Error("Watch source closed")
				return ErrSourceClosed
			}
			slog.Error("Watch source error", "error", err)
			return fmt.Errorf("%w: %w", ErrWatchSource, err)
		}
	}
}

// Handle applies a single event and reports whether it caused a restart.
func (c *Controller) Handle(ev watcher.ChangeEvent) bool {
	if !ev.Actionable() {
		return false
	}

	if !c.filter.IsRelevant(ev.Path) {
		slog.Debug("Ignoring path", "path", ev.Path)
		return false
	}

	now := c.now()
	if !c.gate.ShouldAct(now) {
		c.suppressed++
		slog.Debug("Suppressed by interval", "path", ev.Path, "remaining", c.gate.Remaining(now))
		return false
	}

	c.gate.RecordAction(now)
	c.triggers++
	fmt.Fprintf(c.notices, "Modified: %s\n", ev.Path)
	slog.Info("Modified", "path", ev.Path)
	c.spawn()

	return true
}

func (c *Controller) spawn() {
	if err := c.supervisor.Restart(); err != nil {
		slog.Error("Spawn failed", "error", err)
	}
}

// Triggers counts events that caused a restart.
func (c *Controller) Triggers() int {
	return c.triggers
}

// Suppressed counts relevant events dropped by the gate.
func (c *Controller) Suppressed() int {
	return c.suppressed
}
