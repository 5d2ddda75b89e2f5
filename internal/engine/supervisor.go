package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"go.uber.org/zap"
)

// DefaultGraceTimeout is how long a process gets to exit after a graceful
// termination request before it is force-killed.
const DefaultGraceTimeout = 10 * time.Second

// Outcome describes how a supervised process terminated.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Supervisor spawns and supervises external engine processes. Batch mode
// buffers output until exit; stream mode delivers stdout line by line.
type Supervisor struct {
	graceTimeout time.Duration
	logger       *logger.Logger
}

// NewSupervisor creates a Supervisor with the default grace timeout.
func NewSupervisor(log *logger.Logger) *Supervisor {
	return &Supervisor{
		graceTimeout: DefaultGraceTimeout,
		logger:       log,
	}
}

// SetGraceTimeout overrides the graceful termination window. Tests use a
// short window to keep kill paths fast.
func (s *Supervisor) SetGraceTimeout(d time.Duration) {
	s.graceTimeout = d
}

// VerifyBinary probes the engine binary with its version command. It returns
// the reported version line, or an engine-unavailable error if the binary is
// missing or unrunnable.
func (s *Supervisor) VerifyBinary(ctx context.Context, binary string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	outcome, err := s.Run(probeCtx, BuildVersionCommand(binary), 10*time.Second)
	if err != nil {
		return "", apperrors.Wrapf(apperrors.ErrCodeEngineUnavailable, err,
			"engine binary %q is not runnable", binary)
	}

	if outcome.ExitCode != 0 {
		return "", apperrors.Newf(apperrors.ErrCodeEngineUnavailable,
			"engine binary %q exited with code %d: %s", binary, outcome.ExitCode, outcome.Stderr)
	}

	return strings.TrimSpace(outcome.Stdout), nil
}

// Run executes the command and blocks until it exits or the timeout elapses.
// On timeout the process is killed and the outcome reports TimedOut=true
// together with a process-timeout error; the run is never silently retried.
// Cancelling ctx terminates the process gracefully first, then forcibly
// after the grace timeout.
func (s *Supervisor) Run(ctx context.Context, command Command, timeout time.Duration) (Outcome, error) {
	runCtx := ctx

	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command.Name, command.Args...)
	cmd.Dir = command.Dir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On cancellation ask the process to exit first; WaitDelay force-kills
	// it when the grace window elapses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.graceTimeout

	start := time.Now()
	err := cmd.Run()
	outcome := Outcome{
		ExitCode: exitCode(cmd, err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: false,
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		return outcome, nil
	case isLaunchError(err):
		return outcome, apperrors.Wrapf(apperrors.ErrCodeProcessLaunchFailed, err,
			"failed to launch %q", command.Name)
	case timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.TimedOut = true

		s.logger.Warn("Process killed after timeout",
			zap.String("command", command.Name),
			zap.Duration("timeout", timeout),
		)

		return outcome, apperrors.Newf(apperrors.ErrCodeProcessTimeout,
			"process exceeded timeout of %s", timeout)
	case ctx.Err() != nil:
		// Caller-initiated cancellation; the caller decides what state this
		// maps to, so surface the context error unchanged.
		return outcome, ctx.Err()
	default:
		return outcome, apperrors.Wrapf(apperrors.ErrCodeProcessExitFault, err,
			"process exited with code %d", outcome.ExitCode)
	}
}

// StreamHandle controls one streaming engine process. Lines carries stdout
// one line at a time with no buffering beyond the OS pipe; it is closed when
// the process's stdout reaches EOF.
type StreamHandle struct {
	Lines <-chan string

	cmd          *exec.Cmd
	stderr       *bytes.Buffer
	start        time.Time
	graceTimeout time.Duration

	done     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	mu       sync.Mutex
	outcome  Outcome
	waitErr  error
	stopped  bool
}

// Stream launches the command and returns immediately. One goroutine reads
// stdout into the handle's line channel; Stop is the only way to end the
// session short of the process terminating on its own.
func (s *Supervisor) Stream(ctx context.Context, command Command) (*StreamHandle, error) {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.graceTimeout

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeProcessLaunchFailed, "failed to open stdout pipe", err)
	}

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCodeProcessLaunchFailed, err,
			"failed to launch %q", command.Name)
	}

	lines := make(chan string, 256)
	handle := &StreamHandle{
		Lines:        lines,
		cmd:          cmd,
		stderr:       &stderr,
		start:        time.Now(),
		graceTimeout: s.graceTimeout,
		done:         make(chan struct{}),
		quit:         make(chan struct{}),
	}

	s.logger.Info("Engine process started",
		zap.String("command", command.Name),
		zap.Int("pid", cmd.Process.Pid),
	)

	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-handle.quit:
				// Receiver gave up without draining; discard the rest so
				// the exit path below stays reachable.
			}
		}

		close(lines)

		waitErr := cmd.Wait()

		handle.mu.Lock()
		handle.outcome = Outcome{
			ExitCode: exitCode(cmd, waitErr),
			Stdout:   "",
			Stderr:   stderr.String(),
			TimedOut: false,
			Duration: time.Since(handle.start),
		}
		handle.waitErr = waitErr
		handle.mu.Unlock()

		close(handle.done)
	}()

	return handle, nil
}

// Stop requests graceful termination and escalates to a kill if the process
// has not exited within the grace window. It blocks until the process is
// gone and returns its outcome. Stop is safe even when the caller never
/// drained Lines: buffered output is discarded from here on.
func (h *StreamHandle) Stop(grace time.Duration) (Outcome, error) {
	h.quitOnce.Do(func() {
		close(h.quit)
	})

	h.mu.Lock()
	alreadyStopped := h.stopped
	h.stopped = true
	h.mu.Unlock()

	if !alreadyStopped && !h.Exited() {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !h.Exited() {
			return h.Wait(), apperrors.Wrap(apperrors.ErrCodeProcessKillFailed,
				"failed to signal process", err)
		}
	}

	if grace <= 0 {
		grace = h.graceTimeout
	}

	select {
	case <-h.done:
	case <-time.After(grace):
		_ = h.cmd.Process.Kill()
		<-h.done
	}

	return h.Wait(), nil
}

// Wait blocks until the process has exited and returns its outcome.
func (h *StreamHandle) Wait() Outcome {
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.outcome
}

// Done is closed once the process has exited and its outcome is available.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has already terminated.
func (h *StreamHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Pid returns the OS process id of the supervised process.
func (h *StreamHandle) Pid() int {
	return h.cmd.Process.Pid
}

func isLaunchError(err error) bool {
	var execErr *exec.Error

	return errors.As(err, &execErr)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
