package scheduler

import (
	"time"

	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
)

// TaskRequest is one (strategy, configuration) pair submitted for execution.
type TaskRequest struct {
	Strategy string              `json:"strategy"`
	Config   types.Configuration `json:"config"`
}

// TaskStatus is the externally visible snapshot of one task. Snapshots are
// copies; callers never hold references into scheduler state.
type TaskStatus struct {
	TaskID      string               `json:"task_id"`
	BatchID     string               `json:"batch_id"`
	Strategy    string               `json:"strategy"`
	State       types.ExecutionState `json:"state"`
	SubmittedAt time.Time            `json:"submitted_at"`
	Elapsed     time.Duration        `json:"elapsed"`
	// Result is set once the task reaches Completed or Failed.
	Result *types.Result `json:"result,omitempty"`
	// Error carries the failure message for Failed tasks.
	Error string `json:"error,omitempty"`
}

// task is the scheduler-owned mutable record for one submission. All fields
// past the identity block are guarded by the scheduler mutex.
type task struct {
	id          string
	batchID     string
	strategy    string
	config      types.Configuration
	submittedAt time.Time

	state           types.ExecutionState
	startedAt       time.Time
	finishedAt      time.Time
	result          *types.Result
	errMessage      string
	cancelRequested bool
	cancelRunning   func()
}

// transition moves the task to the next state, enforcing monotonicity.
// Entering Running starts the wall-clock timer; entering a terminal state
// stops it.
func (t *task) transition(to types.ExecutionState) error {
	if !types.CanTransition(t.state, to) {
		return apperrors.Newf(apperrors.ErrCodeIllegalTransition,
			"task %s: illegal transition %s -> %s", t.id, t.state, to)
	}

	now := time.Now()

	if to == types.ExecutionStateRunning {
		t.startedAt = now
	}

	if to.IsTerminal() {
		t.finishedAt = now
	}

	t.state = to

	return nil
}

func (t *task) elapsed() time.Duration {
	switch {
	case t.startedAt.IsZero():
		return 0
	case t.finishedAt.IsZero():
		return time.Since(t.startedAt)
	default:
		return t.finishedAt.Sub(t.startedAt)
	}
}

func (t *task) snapshot() TaskStatus {
	return TaskStatus{
		TaskID:      t.id,
		BatchID:     t.batchID,
		Strategy:    t.strategy,
		State:       t.state,
		SubmittedAt: t.submittedAt,
		Elapsed:     t.elapsed(),
		Result:      t.result,
		Error:       t.errMessage,
	}
}
