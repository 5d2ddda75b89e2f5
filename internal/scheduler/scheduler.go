// Package scheduler runs batches of backtest tasks on a bounded worker
// pool. Tasks beyond the pool size wait in a FIFO queue: first submitted,
// first run, with no priority reordering. Submission and status queries
// never block on running work.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-orchestrator/internal/engine"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/parser"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"go.uber.org/zap"
)

// DefaultWorkers is the worker pool size when the configuration leaves it unset.
const DefaultWorkers = 4

// DefaultTaskTimeout bounds one backtest process; a run past it is killed
// and the task fails, never silently retried.
const DefaultTaskTimeout = 5 * time.Minute

// DefaultRetention is how long terminal tasks stay queryable through Status
// after finishing. Results themselves outlive this in the store.
const DefaultRetention = time.Hour

// Runner executes one engine invocation to completion. *engine.Supervisor
// is the production implementation; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd engine.Command, timeout time.Duration) (engine.Outcome, error)
}

// ResultWriter persists one terminal task record. The store guarantees one
// write transaction per task, safe under concurrent workers.
type ResultWriter interface {
	Append(ctx context.Context, state types.ExecutionState, result types.Result) error
}

// Config holds scheduler construction parameters.
type Config struct {
	// Workers is the bound on simultaneously running tasks.
	Workers int
	// EngineBinary is the external engine command name.
	EngineBinary string
	// WorkDir is the working directory for engine processes.
	WorkDir string
	// TaskTimeout bounds a single backtest run.
	TaskTimeout time.Duration
	// Retention is how long terminal tasks remain in the status maps
	// before they are swept. Their persisted results are unaffected.
	Retention time.Duration
}

// Scheduler owns every task from submission until its terminal state.
type Scheduler struct {
	cfg       Config
	runner    Runner
	extractor *parser.Extractor
	store     ResultWriter
	logger    *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   map[string]*task
	batches map[string][]string
	queue   []string
	closed  bool

	wg sync.WaitGroup
}

// NewScheduler creates the scheduler and starts its worker pool. The store
// may be nil when persistence is not wanted (tests, compare-only runs).
func NewScheduler(cfg Config, runner Runner, store ResultWriter, log *logger.Logger) (*Scheduler, error) {
	if cfg.Workers < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidWorkerCount,
			"worker count must not be negative, got %d", cfg.Workers)
	}

	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}

	s := &Scheduler{
		cfg:       cfg,
		runner:    runner,
		extractor: parser.NewExtractor(),
		store:     store,
		logger:    log,
		tasks:     make(map[string]*task),
		batches:   make(map[string][]string),
	}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)

		go s.worker()
	}

	log.Info("Scheduler started", zap.Int("workers", cfg.Workers))

	return s, nil
}

// Submit validates and enqueues a batch of tasks, returning the batch id.
// Any invalid configuration rejects the whole submission with a validation
// error; rejected tasks never appear in status.
func (s *Scheduler) Submit(requests []TaskRequest) (string, error) {
	if len(requests) == 0 {
		return "", apperrors.New(apperrors.ErrCodeEmptyBatch, "batch must contain at least one task")
	}

	for _, req := range requests {
		if req.Strategy == "" {
			return "", apperrors.New(apperrors.ErrCodeMissingStrategy, "task is missing a strategy identifier")
		}

		if err := req.Config.Validate(); err != nil {
			return "", apperrors.Wrapf(apperrors.GetCode(err), err,
				"rejected configuration for strategy %s", req.Strategy)
		}
	}

	batchID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", apperrors.New(apperrors.ErrCodeSchedulerShutdown, "scheduler is shut down")
	}

	s.pruneLocked(time.Now())

	ids := make([]string, 0, len(requests))

	for _, req := range requests {
		t := &task{
			id:          uuid.New().String(),
			batchID:     batchID,
			strategy:    req.Strategy,
			config:      req.Config,
			submittedAt: time.Now(),
			state:       types.ExecutionStateQueued,
		}
		s.tasks[t.id] = t
		s.queue = append(s.queue, t.id)
		ids = append(ids, t.id)
	}

	s.batches[batchID] = ids
	s.cond.Broadcast()

	s.logger.Info("Batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("tasks", len(ids)),
	)

	return batchID, nil
}

// Status returns a point-in-time snapshot of every task in the batch. A
// batch whose tasks all finished longer than the retention window ago has
// been swept and reports batch-not-found.
func (s *Scheduler) Status(batchID string) (map[string]TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(time.Now())

	ids, ok := s.batches[batchID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeBatchNotFound, "unknown batch %s", batchID)
	}

	statuses := make(map[string]TaskStatus, len(ids))
	for _, id := range ids {
		statuses[id] = s.tasks[id].snapshot()
	}

	return statuses, nil
}

// TaskStatus returns the snapshot of a single task.
func (s *Scheduler) TaskStatus(taskID string) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(time.Now())

	t, ok := s.tasks[taskID]
	if !ok {
		return TaskStatus{}, apperrors.Newf(apperrors.ErrCodeTaskNotFound, "unknown task %s", taskID)
	}

	return t.snapshot(), nil
}

// Cancel marks cancellation intent and returns immediately; the terminal
// Cancelled state is observed later via status polling. A still-queued task
// becomes Cancelled directly, without ever observing Running. A running
// task's process receives graceful termination first, then a force kill
// after the grace window.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeTaskNotFound, "unknown task %s", taskID)
	}

	return s.cancelLocked(t)
}

// CancelAll cancels every non-terminal task in the batch.
func (s *Scheduler) CancelAll(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.batches[batchID]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeBatchNotFound, "unknown batch %s", batchID)
	}

	for _, id := range ids {
		if err := s.cancelLocked(s.tasks[id]); err != nil {
			return err
		}
	}

	return nil
}

// pruneLocked sweeps batches whose tasks are all terminal and past the
// retention window, so the status maps stay bounded in long-lived serve
// mode. Persisted results are untouched. Called with the mutex held.
func (s *Scheduler) pruneLocked(now time.Time) {
	for batchID, ids := range s.batches {
		expired := true

		for _, id := range ids {
			t := s.tasks[id]
			if !t.state.IsTerminal() || now.Sub(t.finishedAt) < s.cfg.Retention {
				expired = false

				break
			}
		}

		if !expired {
			continue
		}

		for _, id := range ids {
			delete(s.tasks, id)
		}

		delete(s.batches, batchID)
	}
}

func (s *Scheduler) cancelLocked(t *task) error {
	if t.state.IsTerminal() || t.cancelRequested {
		return nil
	}

	t.cancelRequested = true

	switch t.state {
	case types.ExecutionStateQueued:
		if err := t.transition(types.ExecutionStateCancelled); err != nil {
			return err
		}

		s.recordAudit(t)
	case types.ExecutionStateRunning:
		if t.cancelRunning != nil {
			t.cancelRunning()
		}
	}

	s.logger.Info("Cancellation requested",
		zap.String("task_id", t.id),
		zap.String("strategy", t.strategy),
	)

	return nil
}

// Shutdown stops intake, cancels all remaining work, and waits for workers
// to drain or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()

	s.closed = true

	for _, t := range s.tasks {
		_ = s.cancelLocked(t)
	}

	s.cond.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}

		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()

			return
		}

		t := s.tasks[s.queue[0]]
		s.queue = s.queue[1:]

		if t.state != types.ExecutionStateQueued {
			// Cancelled while queued; already terminal.
			s.mu.Unlock()

			continue
		}

		runCtx, cancel := context.WithCancel(context.Background())
		t.cancelRunning = cancel

		if err := t.transition(types.ExecutionStateRunning); err != nil {
			cancel()
			s.mu.Unlock()

			continue
		}

		s.mu.Unlock()

		s.execute(runCtx, t)
		cancel()
	}
}

// execute runs one task from Running to a terminal state. A failure here
// only frees this worker; sibling tasks and the pool are unaffected.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	exportPath := filepath.Join(s.cfg.WorkDir, "backtest_export_"+t.id+".json")
	cmd := engine.BuildBacktestCommand(s.cfg.EngineBinary, s.cfg.WorkDir, t.strategy, t.config, exportPath)

	outcome, runErr := s.runner.Run(ctx, cmd, s.cfg.TaskTimeout)

	defer func() {
		_ = os.Remove(exportPath)
	}()

	var (
		final  types.ExecutionState
		result types.Result
		errMsg string
	)

	switch {
	case ctx.Err() != nil:
		// Explicit cancel observed while running: Cancelled, not Failed.
		final = types.ExecutionStateCancelled
	case runErr != nil:
		final = types.ExecutionStateFailed
		errMsg = runErr.Error()

		// A nonzero exit can still leave a usable export file or parseable
		// output behind; keep whatever extracted so the failure record is
		// not empty-handed.
		if partial, perr := s.parseOutcome(t, outcome, exportPath); perr == nil {
			result = partial
		}
	default:
		parsed, perr := s.parseOutcome(t, outcome, exportPath)
		if perr != nil {
			final = types.ExecutionStateFailed
			errMsg = perr.Error()
		} else {
			final = types.ExecutionStateCompleted
			result = parsed
		}
	}

	result.Strategy = t.strategy
	result.Config = t.config
	result.CompletedAt = time.Now()
	result.ExecutionTime = outcome.Duration
	result.ErrorMessage = errMsg

	// Persist before the terminal transition becomes observable, so a
	// caller that polls a terminal state can rely on the stored row.
	if final == types.ExecutionStateCompleted || final == types.ExecutionStateFailed {
		s.persist(final, result)
	}

	s.mu.Lock()

	t.cancelRunning = nil
	t.errMessage = errMsg

	if err := t.transition(final); err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to finalize task", zap.String("task_id", t.id), zap.Error(err))

		return
	}

	if final == types.ExecutionStateCompleted || final == types.ExecutionStateFailed {
		resultCopy := result
		t.result = &resultCopy
	}

	s.mu.Unlock()

	s.logger.Info("Task finished",
		zap.String("task_id", t.id),
		zap.String("strategy", t.strategy),
		zap.String("state", string(final)),
		zap.Duration("execution_time", outcome.Duration),
	)

	if final == types.ExecutionStateCancelled {
		s.mu.Lock()
		s.recordAudit(t)
		s.mu.Unlock()
	}
}

// parseOutcome extracts the task's result, preferring the engine's
// structured export file. Real per-trade data (sides, timestamps) only
// exists there; the table scrape is the fallback when the export is absent
// or undecodable.
func (s *Scheduler) parseOutcome(t *task, outcome engine.Outcome, exportPath string) (types.Result, error) {
	if data, err := os.ReadFile(exportPath); err == nil {
		if _, metrics, trades, perr := parser.ParseExportJSON(data); perr == nil {
			return types.Result{Metrics: metrics, Trades: trades}, nil
		}

		s.logger.Warn("Export file unusable, falling back to table output",
			zap.String("task_id", t.id),
			zap.String("export_path", exportPath),
		)
	}

	if outcome.Stdout == "" {
		return types.Result{}, apperrors.New(apperrors.ErrCodeParseNoUsableData,
			"no export file and no output to parse")
	}

	return s.extractor.ParseBatch(outcome.Stdout, t.strategy, t.config)
}

// recordAudit persists a cancelled task as an audit entry: no metrics, just
// identity and timing. Called with the scheduler mutex held.
func (s *Scheduler) recordAudit(t *task) {
	if s.store == nil {
		return
	}

	audit := types.Result{
		Strategy:      t.strategy,
		Config:        t.config,
		CompletedAt:   time.Now(),
		ExecutionTime: t.elapsed(),
		ErrorMessage:  "cancelled by user",
	}

	go s.persist(types.ExecutionStateCancelled, audit)
}

func (s *Scheduler) persist(state types.ExecutionState, result types.Result) {
	if s.store == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.Append(writeCtx, state, result); err != nil {
		s.logger.Error("Failed to persist result",
			zap.String("strategy", result.Strategy),
			zap.Error(err),
		)
	}
}
