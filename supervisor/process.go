package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// ExecLauncher runs commands with os/exec. Nil streams inherit fwatcher's own
// stdin, stdout and stderr.
type ExecLauncher struct {
	Signal os.Signal
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ExecLauncher) Launch(name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{
		cmd:    cmd,
		signal: l.Signal,
		done:   make(chan struct{}),
	}
	go p.reap()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	signal os.Signal
	done   chan struct{}
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return terminate(p.cmd.Process, p.signal)
}

// terminate goes through os.Process so a process that has already been
// waited for is never signalled by a pid that may have been reused.
func terminate(proc *os.Process, sig os.Signal) error {
	if sig == nil {
		sig = DefaultSignal
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// reap waits for the command so a killed child does not stay a zombie.
func (p *execProcess) reap() {
	err := p.cmd.Wait()
	close(p.done)
	slog.Debug("Command exited", "pid", p.cmd.Process.Pid, "status", p.cmd.ProcessState.String(), "error", err)
}
