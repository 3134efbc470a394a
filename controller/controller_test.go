package controller

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/justin-molloy/fwatcher/filter"
	"github.com/justin-molloy/fwatcher/gate"
	"github.com/justin-molloy/fwatcher/supervisor"
	"github.com/justin-molloy/fwatcher/watcher"
)

func TestMain(m *testing.M) {
	// test flags must be parsed before testing.Verbose() is called
	flag.Parse()

	level := slog.LevelError
	if testing.Verbose() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	os.Exit(m.Run())
}

type fakeProcess struct {
	pid        int
	terminated int
	done       chan struct{}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.terminated++
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type fakeLauncher struct {
	procs    []*fakeProcess
	attempts int
	fail     bool
}

func (l *fakeLauncher) Launch(name string, args []string) (supervisor.Process, error) {
	l.attempts++
	if l.fail {
		return nil, errors.New("exec: not found")
	}
	p := &fakeProcess{pid: 100 + len(l.procs), done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p, nil
}

type fakeSource struct {
	events chan watcher.ChangeEvent
	errors chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan watcher.ChangeEvent),
		errors: make(chan error, 1),
	}
}

func (s *fakeSource) Events() <-chan watcher.ChangeEvent { return s.events }
func (s *fakeSource) Errors() <-chan error              { return s.errors }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	controller *Controller
	launcher   *fakeLauncher
	clock      *fakeClock
	notices    *bytes.Buffer
}

func newHarness(t *testing.T, includes, excludes []string, restart bool) *harness {
	t.Helper()

	pf, err := filter.New(includes, excludes)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}

	launcher := &fakeLauncher{}
	sup, err := supervisor.New([]string{"pytest"}, restart, launcher)
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	notices := &bytes.Buffer{}
	c := New(pf, gate.New(time.Second), sup, Options{Now: clock.Now, Notices: notices})

	return &harness{controller: c, launcher: launcher, clock: clock, notices: notices}
}

// start runs the controller in the background and returns a function that
// stops it and reports the result of Run.
func (h *harness) start(t *testing.T, src Source) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- h.controller.Run(ctx, src) }()

	return func() error {
		cancel()
		select {
		case err := <-result:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func modified(path string) watcher.ChangeEvent {
	return watcher.ChangeEvent{Kind: watcher.Modified, Path: path}
}

func TestStartupSpawnsOnce(t *testing.T) {
	h := newHarness(t, []string{"**/*.py"}, nil, false)
	src := newFakeSource()

	stop := h.start(t, src)

	// unbuffered send returns only once startup has finished
	src.events <- watcher.ChangeEvent{Kind: watcher.Other, Path: "src/app.py"}

	if err := stop(); err != nil {
		t.Fatalf("Expected nil on cancel, got %v", err)
	}
	if len(h.launcher.procs) != 1 {
		t.Errorf("Expected one spawn at startup, got %d", len(h.launcher.procs))
	}
}

func TestIntervalSuppressesThenTriggers(t *testing.T) {
	h := newHarness(t, []string{"**/*.py"}, nil, false)
	h.controller.spawn()
	h.controller.gate.RecordAction(h.clock.Now())

	h.clock.Advance(200 * time.Millisecond)
	if h.controller.Handle(modified("src/app.py")) {
		t.Error("Expected event at 0.2s to be suppressed")
	}
	if len(h.launcher.procs) != 1 {
		t.Fatalf("Expected no new spawn, got %d spawns", len(h.launcher.procs))
	}

	h.clock.Advance(900 * time.Millisecond)
	if !h.controller.Handle(modified("src/app.py")) {
		t.Error("Expected event at 1.1s to trigger a restart")
	}
	if len(h.launcher.procs) != 2 {
		t.Fatalf("Expected exactly one new spawn, got %d spawns", len(h.launcher.procs))
	}
	if h.launcher.procs[0].terminated != 0 {
		t.Error("Expected first process to be left running")
	}
	if h.controller.Triggers() != 1 || h.controller.Suppressed() != 1 {
		t.Errorf("Expected 1 trigger and 1 suppressed, got %d and %d",
			h.controller.Triggers(), h.controller.Suppressed())
	}
}

func TestExcludedPathNeverTriggers(t *testing.T) {
	h := newHarness(t, []string{"**/*.py"}, []string{"**/test_*.py"}, false)
	h.controller.spawn()
	h.controller.gate.RecordAction(h.clock.Now())

	for _, elapsed := range []time.Duration{200 * time.Millisecond, 2 * time.Second, time.Hour} {
		h.clock.Advance(elapsed)
		if h.controller.Handle(modified("src/test_foo.py")) {
			t.Errorf("Expected excluded path to be ignored after %s", elapsed)
		}
	}

	if len(h.launcher.procs) != 1 {
		t.Errorf("Expected only the startup spawn, got %d", len(h.launcher.procs))
	}
}

func TestRestartTerminatesRunningChild(t *testing.T) {
	h := newHarness(t, []string{"**/*.py"}, nil, true)
	h.controller.spawn()
	h.controller.gate.RecordAction(h.clock.Now())

	h.clock.Advance(1500 * time.Millisecond)
	if !h.controller.Handle(modified("src/app.py")) {
		t.Fatal("Expected restart")
	}

	if len(h.launcher.procs) != 2 {
		t.Fatalf("Expected exactly one new spawn, got %d spawns", len(h.launcher.procs))
	}
	if h.launcher.procs[0].terminated != 1 {
		t.Errorf("Expected one termination of the running child, got %d", h.launcher.procs[0].terminated)
	}
	if h.launcher.procs[1].terminated != 0 {
		t.Error("New child should not be terminated")
	}
}

func TestNonActionableEventsIgnored(t *testing.T) {
	h := newHarness(t, []string{"*"}, nil, false)
	h.clock.Advance(time.Hour)

	for _, kind := range []watcher.Kind{watcher.Removed, watcher.Other} {
		if h.controller.Handle(watcher.ChangeEvent{Kind: kind, Path: "src/app.py"}) {
			t.Errorf("Expected %s event to be ignored", kind)
		}
	}
	if len(h.launcher.procs) != 0 {
		t.Errorf("Expected no spawns, got %d", len(h.launcher.procs))
	}

	if !h.controller.Handle(watcher.ChangeEvent{Kind: watcher.Created, Path: "src/new.py"}) {
		t.Error("Expected Created event to trigger")
	}
}

func TestModifiedNoticeLogged(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(previous)

	h := newHarness(t, []string{"*"}, nil, false)
	h.controller.Handle(modified("src/app.py"))

	output := buf.String()
	if !strings.Contains(output, "msg=Modified") || !strings.Contains(output, "path=src/app.py") {
		t.Errorf("Expected Modified notice with path, got: %s", output)
	}
}

func TestModifiedNoticeIgnoresLogLevel(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})))
	defer slog.SetDefault(previous)

	h := newHarness(t, []string{"*"}, nil, false)
	h.controller.Handle(modified("src/app.py"))
	h.clock.Advance(200 * time.Millisecond)
	h.controller.Handle(modified("src/other.py"))

	if got := h.notices.String(); got != "Modified: src/app.py\n" {
		t.Errorf("Expected one notice for the restart, got %q", got)
	}
	if strings.Contains(buf.String(), "Modified") {
		t.Errorf("Expected no Modified log record at error level, got: %s", buf.String())
	}
}

func TestSuppressedEventLogsRemainingCooldown(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(previous)

	h := newHarness(t, []string{"*"}, nil, false)
	h.controller.gate.RecordAction(h.clock.Now())
	h.clock.Advance(300 * time.Millisecond)
	h.controller.Handle(modified("src/app.py"))

	if !strings.Contains(buf.String(), "remaining=700ms") {
		t.Errorf("Expected remaining cooldown in debug log, got: %s", buf.String())
	}
}

func TestSpawnFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, []string{"*"}, nil, false)
	h.launcher.fail = true
	src := newFakeSource()

	stop := h.start(t, src)
	src.events <- watcher.ChangeEvent{Kind: watcher.Other}
	if err := stop(); err != nil {
		t.Fatalf("Expected loop to survive spawn failure, got %v", err)
	}

	h.clock.Advance(2 * time.Second)
	if !h.controller.Handle(modified("main.go")) {
		t.Error("Expected event to trigger after a failed startup spawn")
	}
	if h.launcher.attempts != 2 {
		t.Errorf("Expected 2 launch attempts, got %d", h.launcher.attempts)
	}
}

func TestRunTermination(t *testing.T) {
	t.Run("events closed", func(t *testing.T) {
		h := newHarness(t, []string{"*"}, nil, false)
		src := newFakeSource()
		close(src.events)

		err := h.controller.Run(context.Background(), src)
		if !errors.Is(err, ErrSourceClosed) {
			t.Errorf("Expected ErrSourceClosed, got %v", err)
		}
	})

	t.Run("source error", func(t *testing.T) {
		h := newHarness(t, []string{"*"}, nil, false)
		src := newFakeSource()
		cause := errors.New("inotify queue overflow")
		src.errors <- cause

		err := h.controller.Run(context.Background(), src)
		if !errors.Is(err, ErrWatchSource) || !errors.Is(err, cause) {
			t.Errorf("Expected wrapped ErrWatchSource, got %v", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		h := newHarness(t, []string{"*"}, nil, false)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := h.controller.Run(ctx, newFakeSource()); err != nil {
			t.Errorf("Expected nil on cancel, got %v", err)
		}
		if len(h.launcher.procs) != 1 {
			t.Errorf("Expected startup spawn before exit, got %d", len(h.launcher.procs))
		}
	})
}
