// Package session manages long-lived dry-run engine processes. Unlike
// batch tasks these have no natural end: each session runs until stopped
// or until its process dies on its own.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-orchestrator/internal/engine"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/parser"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handle is the running-process surface the manager needs. It is what
// engine.StreamHandle provides; tests substitute fakes.
type Handle interface {
	LineStream() <-chan string
	Stop(grace time.Duration) (engine.Outcome, error)
	Done() <-chan struct{}
	Wait() engine.Outcome
	Pid() int
}

// Streamer launches a streaming engine process.
type Streamer interface {
	Stream(ctx context.Context, cmd engine.Command) (Handle, error)
}

// NewSupervisorStreamer adapts an engine.Supervisor to the Streamer interface.
func NewSupervisorStreamer(sup *engine.Supervisor) Streamer {
	return supervisorStreamer{sup: sup}
}

type supervisorStreamer struct {
	sup *engine.Supervisor
}

func (s supervisorStreamer) Stream(ctx context.Context, cmd engine.Command) (Handle, error) {
	h, err := s.sup.Stream(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return streamHandle{h}, nil
}

type streamHandle struct {
	*engine.StreamHandle
}

func (h streamHandle) LineStream() <-chan string {
	return h.Lines
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	ID        string               `json:"id"`
	Strategy  string               `json:"strategy"`
	State     types.ExecutionState `json:"state"`
	StartedAt time.Time            `json:"started_at"`
	Uptime    time.Duration        `json:"uptime"`
	Pid       int                  `json:"pid"`
	ExitCode  int                  `json:"exit_code,omitempty"`
	Signals   int                  `json:"signals"`
	Trades    int                  `json:"trades"`
	Balance   decimal.Decimal      `json:"balance"`
	// BalanceKnown is false until the engine reports its first wallet line.
	BalanceKnown bool    `json:"balance_known"`
	ProfitPct    float64 `json:"profit_pct"`
	OpenTrades   int     `json:"open_trades"`
	LastLogLine  string  `json:"last_log_line,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type session struct {
	id       string
	strategy string
	config   types.Configuration

	mu        sync.Mutex
	state     types.ExecutionState
	startedAt time.Time
	stoppedAt time.Time
	exitCode  int
	errMsg    string
	stream    parser.SessionState
	handle    Handle
	cancel    context.CancelFunc
}

func (s *session) transition(to types.ExecutionState) error {
	if !types.CanTransition(s.state, to) {
		return apperrors.Newf(apperrors.ErrCodeIllegalTransition,
			"session %s cannot move from %s to %s", s.id, s.state, to)
	}

	s.state = to
	if to.IsTerminal() {
		s.stoppedAt = time.Now()
	}

	return nil
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	uptime := time.Since(s.startedAt)
	if !s.stoppedAt.IsZero() {
		uptime = s.stoppedAt.Sub(s.startedAt)
	}

	pid := 0
	if s.handle != nil {
		pid = s.handle.Pid()
	}

	return Status{
		ID:           s.id,
		Strategy:     s.strategy,
		State:        s.state,
		StartedAt:    s.startedAt,
		Uptime:       uptime,
		Pid:          pid,
		ExitCode:     s.exitCode,
		Signals:      s.stream.SignalCount,
		Trades:       s.stream.TradesSeen,
		Balance:      s.stream.LatestBalance,
		BalanceKnown: s.stream.BalanceKnown,
		ProfitPct:    s.stream.LatestProfitPct,
		OpenTrades:   s.stream.OpenTrades,
		LastLogLine:  s.stream.LastLogLine,
		Error:        s.errMsg,
	}
}

// Config holds manager construction parameters.
type Config struct {
	// EngineBinary is the external engine command name.
	EngineBinary string
	// WorkDir is the working directory for engine processes.
	WorkDir string
	// GraceTimeout is how long Stop waits after a termination request
	// before force-killing.
	GraceTimeout time.Duration
}

// Manager starts, observes, and stops continuous sessions. An unexpected
// process exit marks the session Failed; sessions are never restarted
// automatically.
type Manager struct {
	cfg      Config
	streamer Streamer
	logger   *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager.
func NewManager(cfg Config, streamer Streamer, log *logger.Logger) *Manager {
	if cfg.GraceTimeout == 0 {
		cfg.GraceTimeout = engine.DefaultGraceTimeout
	}

	return &Manager{
		cfg:      cfg,
		streamer: streamer,
		logger:   log,
		sessions: make(map[string]*session),
	}
}

// Start validates the configuration, launches a dry-run engine process, and
// returns the new session's id. The session is Running once Start returns.
func (m *Manager) Start(ctx context.Context, strategy string, cfg types.Configuration) (string, error) {
	if strategy == "" {
		return "", apperrors.New(apperrors.ErrCodeMissingStrategy, "session is missing a strategy identifier")
	}

	if err := cfg.Validate(); err != nil {
		return "", apperrors.Wrapf(apperrors.GetCode(err), err,
			"rejected configuration for strategy %s", strategy)
	}

	id := uuid.New().String()
	cmd := engine.BuildDryRunCommand(m.cfg.EngineBinary, m.cfg.WorkDir, strategy, id, cfg)

	streamCtx, cancel := context.WithCancel(context.Background())

	handle, err := m.streamer.Stream(streamCtx, cmd)
	if err != nil {
		cancel()

		return "", err
	}

	sess := &session{
		id:        id,
		strategy:  strategy,
		config:    cfg,
		state:     types.ExecutionStateRunning,
		startedAt: time.Now(),
		handle:    handle,
		cancel:    cancel,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.read(sess)

	m.logger.Info("Session started",
		zap.String("session_id", id),
		zap.String("strategy", strategy),
		zap.Int("pid", handle.Pid()),
	)

	return id, nil
}

// read is the session's single reader goroutine. It owns the stream state
// until the line channel closes, which means the process has exited.
func (m *Manager) read(sess *session) {
	p := parser.NewStreamParser()

	for line := range sess.handle.LineStream() {
		sess.mu.Lock()
		p.ParseLine(&sess.stream, line)
		sess.mu.Unlock()
	}

	outcome := sess.handle.Wait()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.exitCode = outcome.ExitCode

	switch sess.state {
	case types.ExecutionStateStopping:
		_ = sess.transition(types.ExecutionStateStopped)
	case types.ExecutionStateRunning:
		// The engine died without being asked to stop. Record the failure
		// and leave restarting to the operator.
		_ = sess.transition(types.ExecutionStateFailed)
		sess.errMsg = outcome.Stderr

		m.logger.Error("Session exited unexpectedly",
			zap.String("session_id", sess.id),
			zap.Int("exit_code", outcome.ExitCode),
		)
	}

	sess.cancel()
}

// Stop requests termination and blocks until the process is gone. The
// session passes through Stopping before reaching Stopped.
func (m *Manager) Stop(sessionID string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return Status{}, apperrors.Newf(apperrors.ErrCodeSessionNotFound, "unknown session %s", sessionID)
	}

	sess.mu.Lock()

	if sess.state != types.ExecutionStateRunning {
		state := sess.state
		sess.mu.Unlock()

		return sess.snapshot(), apperrors.Newf(apperrors.ErrCodeSessionNotRunning,
			"session %s is %s, not running", sessionID, state)
	}

	if err := sess.transition(types.ExecutionStateStopping); err != nil {
		sess.mu.Unlock()

		return Status{}, err
	}

	handle := sess.handle
	sess.mu.Unlock()

	m.logger.Info("Stopping session", zap.String("session_id", sessionID))

	if _, err := handle.Stop(m.cfg.GraceTimeout); err != nil {
		return sess.snapshot(), apperrors.Wrapf(apperrors.ErrCodeSessionStopFailed, err,
			"failed to stop session %s", sessionID)
	}

	// The reader goroutine finalizes the state once the line channel closes;
	// wait for the process to be fully reaped before reporting.
	<-handle.Done()

	return sess.snapshot(), nil
}

// Status returns a snapshot of one session.
func (m *Manager) Status(sessionID string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return Status{}, apperrors.Newf(apperrors.ErrCodeSessionNotFound, "unknown session %s", sessionID)
	}

	return sess.snapshot(), nil
}

// List returns snapshots of every known session, including terminal ones.
func (m *Manager) List() []Status {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))

	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.snapshot())
	}

	return statuses
}

// StopAll stops every running session, best effort. The first error is
// returned after all sessions have been attempted.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))

	for id, sess := range m.sessions {
		sess.mu.Lock()
		running := sess.state == types.ExecutionStateRunning
		sess.mu.Unlock()

		if running {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error

	for _, id := range ids {
		if _, err := m.Stop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
