package types

// ExecutionState represents the lifecycle state of a task or session.
type ExecutionState string

const (
	// ExecutionStateQueued indicates the task is waiting for a free worker.
	ExecutionStateQueued ExecutionState = "queued"

	// ExecutionStateRunning indicates the engine process is executing.
	ExecutionStateRunning ExecutionState = "running"

	// ExecutionStateStopping indicates a session received a stop request and
	// its process is being terminated.
	ExecutionStateStopping ExecutionState = "stopping"

	// ExecutionStateCompleted indicates the process exited cleanly and the
	// output parsed into a usable result.
	ExecutionStateCompleted ExecutionState = "completed"

	// ExecutionStateFailed indicates a nonzero exit, launch failure, timeout,
	// or unusable output.
	ExecutionStateFailed ExecutionState = "failed"

	// ExecutionStateCancelled indicates an explicit cancel request was
	// observed before or while running.
	ExecutionStateCancelled ExecutionState = "cancelled"

	// ExecutionStateStopped indicates a session terminated after an explicit
	// stop request.
	ExecutionStateStopped ExecutionState = "stopped"
)

// transitions lists every legal state change. States are monotonic: once a
// state is left it is never revisited.
var transitions = map[ExecutionState][]ExecutionState{
	ExecutionStateQueued:   {ExecutionStateRunning, ExecutionStateCancelled},
	ExecutionStateRunning:  {ExecutionStateCompleted, ExecutionStateFailed, ExecutionStateCancelled, ExecutionStateStopping},
	ExecutionStateStopping: {ExecutionStateStopped, ExecutionStateFailed},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to ExecutionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s ExecutionState) IsTerminal() bool {
	return len(transitions[s]) == 0
}
