package unwind

import (
	"fmt"
)

// StepExecutionError reports that a step's forward action failed. It carries
// the step name and the underlying cause, and is what Execute returns when a
// step aborts the transaction.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// CompensationError reports that a step's undo action failed. Rollback never
// returns one; it is recorded on the step and surfaced through Status.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %q failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// TransactionStateError reports an operation that violates the transaction
// state machine, such as committing an already rolled-back transaction or
// executing a step after a terminal transition.
type TransactionStateError struct {
	Op    string
	State State
	Err   error
}

func (e *TransactionStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not valid in state %s: %v", e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("%s not valid in state %s", e.Op, e.State)
}

func (e *TransactionStateError) Unwrap() error {
	return e.Err
}

// ManagerConflictError reports a Begin attempted while another transaction
// still holds the manager.
type ManagerConflictError struct {
	Active string
}

func (e *ManagerConflictError) Error() string {
	return fmt.Sprintf("transaction %q is still active", e.Active)
}

// stepFailed wraps a step's action error for propagation out of Execute.
func stepFailed(step string, err error) *StepExecutionError {
	return &StepExecutionError{Step: step, Err: err}
}

// undoFailed wraps a step's compensation error for recording on the step.
func undoFailed(step string, err error) *CompensationError {
	return &CompensationError{Step: step, Err: err}
}
