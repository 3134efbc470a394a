// Package supervisor owns the lifecycle of the command fwatcher runs.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrSpawn = errors.New("failed to start command")

// Process is a handle to a spawned command.
type Process interface {
	Pid() int
	// Terminate signals the process and returns without waiting for it to exit.
	Terminate() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Launcher starts a program with the given arguments.
type Launcher interface {
	Launch(name string, args []string) (Process, error)
}

// Supervisor spawns the configured command and, when restart is enabled,
// kills the previous instance first. It is not safe for concurrent use; the
// controller loop is its only caller.
type Supervisor struct {
	launcher Launcher
	command  []string
	restart  bool

	current Process
	spawns  int
}

func New(command []string, restart bool, launcher Launcher) (*Supervisor, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("command is required")
	}
	if launcher == nil {
		launcher = &ExecLauncher{}
	}

	return &Supervisor{
		launcher: launcher,
		command:  append([]string(nil), command...),
		restart:  restart,
	}, nil
}

// Restart kills the running command if restart is enabled, then spawns a new
// one. The kill is not awaited, so old and new instances may overlap briefly.
// Without restart the previous instance is left running and forgotten.
func (s *Supervisor) Restart() error {
	previous := s.current
	s.current = nil

	if previous != nil && s.restart {
		slog.Debug("Terminating previous command", "pid", previous.Pid())
		if err := previous.Terminate(); err != nil {
			slog.Warn("Failed to terminate previous command", "pid", previous.Pid(), "error", err)
		}
	}

	proc, err := s.launcher.Launch(s.command[0], s.command[1:])
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrSpawn, s.command[0], err)
	}

	s.current = proc
	s.spawns++
	slog.Info("Command started", "command", strings.Join(s.command, " "), "pid", proc.Pid())

	return nil
}

// Shutdown makes a best-effort attempt to stop the running command when the
// restart policy is enabled. It is called once when fwatcher exits.
func (s *Supervisor) Shutdown() {
	if s.current == nil || !s.restart {
		return
	}

	select {
	case <-s.current.Done():
		return
	default:
	}

	slog.Info("Stopping command", "pid", s.current.Pid())
	if err := s.current.Terminate(); err != nil {
		slog.Warn("Failed to stop command", "pid", s.current.Pid(), "error", err)
	}
	s.current = nil
}

// Active reports whether a spawned command is still held. After Shutdown
// with restart enabled it is false.
func (s *Supervisor) Active() bool {
	return s.current != nil
}

func (s *Supervisor) Spawns() int {
	return s.spawns
}
