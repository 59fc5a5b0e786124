// Package process runs one subprocess attempt: spawn, pipe readers,
// graceful stop. Restart policy belongs to the caller.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/lanview/camnode/internal/logging"
)

const (
	defaultGracefulTimeout = 5 * time.Second
	defaultKillTimeout     = 5 * time.Second

	stdoutChunkSize = 32 * 1024
)

// Config describes one subprocess run. Args are passed to exec directly,
// never through a shell. OnStdout receives raw pipe chunks in a reused
// buffer and must consume them before returning; OnStderrLine receives
// one line at a time. Either may be nil, in which case the stream is
// drained and discarded.
type Config struct {
	StreamID     string
	Name         string
	Args         []string
	OnStdout     func(chunk []byte)
	OnStderrLine func(line string)
	Logger       *slog.Logger

	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// Proc is a handle to a started subprocess.
type Proc struct {
	cfg    Config
	logger *slog.Logger
	cmd    *exec.Cmd

	done     chan struct{}
	exitCode int

	stopOnce sync.Once
}

// Start spawns the subprocess in its own process group and begins
// reading both pipes. The returned handle's Done channel closes after
// the process has exited and both pipes are drained.
func Start(cfg Config) (*Proc, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("empty command name")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("process")
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}

	p := &Proc{
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}

	p.cmd = exec.Command(cfg.Name, cfg.Args...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Name, err)
	}
	// Args may embed credentials, so only the binary name is logged here.
	p.logger.Info("Process started",
		"stream_id", cfg.StreamID, "name", cfg.Name, "pid", p.cmd.Process.Pid)

	outputDone := make(chan struct{}, 2)
	go func() {
		p.readStdout(stdout)
		outputDone <- struct{}{}
	}()
	go func() {
		p.readStderr(stderr)
		outputDone <- struct{}{}
	}()

	processDone := make(chan error, 1)
	go func() {
		processDone <- p.cmd.Wait()
	}()

	go func() {
		err := <-processDone
		<-outputDone
		<-outputDone
		p.exitCode = exitCodeFromError(err)
		p.logger.Info("Process exited",
			"stream_id", cfg.StreamID, "exit_code", p.exitCode)
		close(p.done)
	}()

	return p, nil
}

// Done closes once the process has exited and both pipes are drained.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// ExitCode is valid after Done closes. Processes killed by a signal
// report -1.
func (p *Proc) ExitCode() int {
	return p.exitCode
}

// PID returns the subprocess pid.
func (p *Proc) PID() int {
	return p.cmd.Process.Pid
}

// Stop terminates the subprocess: SIGTERM, wait up to the graceful
// timeout, then SIGKILL. Blocks until the process is gone or the kill
// timeout elapses. Safe to call more than once.
func (p *Proc) Stop() {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.logger.Info("Sending SIGTERM to process",
			"stream_id", p.cfg.StreamID, "pid", p.cmd.Process.Pid)
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			if !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("Failed to send SIGTERM", "error", err)
			}
		}

		select {
		case <-p.done:
			return
		case <-time.After(p.cfg.GracefulTimeout):
		}

		p.logger.Warn("Graceful shutdown timeout, forcing kill",
			"stream_id", p.cfg.StreamID, "timeout", p.cfg.GracefulTimeout)
		if err := p.cmd.Process.Kill(); err != nil {
			// The process may have exited between the timeout and the kill.
			if !errors.Is(err, os.ErrProcessDone) {
				p.logger.Error("Failed to kill process", "error", err)
			}
		}

		select {
		case <-p.done:
		case <-time.After(p.cfg.KillTimeout):
			p.logger.Error("Process did not exit after kill signal",
				"stream_id", p.cfg.StreamID)
		}
	})
}

// Run executes a subprocess to completion or context cancellation and
// returns its exit code. Used for one-shot invocations like the
// connectivity probe.
func Run(ctx context.Context, cfg Config) (int, error) {
	p, err := Start(cfg)
	if err != nil {
		return 1, err
	}

	select {
	case <-p.Done():
		return p.ExitCode(), nil
	case <-ctx.Done():
		p.Stop()
		<-p.Done()
		return p.ExitCode(), ctx.Err()
	}
}

func (p *Proc) readStdout(r io.Reader) {
	buf := make([]byte, stdoutChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && p.cfg.OnStdout != nil {
			p.cfg.OnStdout(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn("Error reading stdout",
					"stream_id", p.cfg.StreamID, "error", err)
			}
			return
		}
	}
}

func (p *Proc) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p.cfg.OnStderrLine != nil {
			p.cfg.OnStderrLine(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading stderr",
			"stream_id", p.cfg.StreamID, "error", err)
	}
}

// exitCodeFromError extracts the exit code from a Wait error: 0 for nil,
// the reported code for ExitError, 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
