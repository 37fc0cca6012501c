package unwind

import (
	"context"
)

// ActionFunc is a step's forward operation. The returned value becomes the
// step's result and is available to later steps through Transaction.Result.
type ActionFunc func(ctx context.Context) (any, error)

// CompensationFunc undoes a previously applied ActionFunc. It must be safe to
// call even if the forward action only partially took effect before the
// transaction failed at a later step.
type CompensationFunc func(ctx context.Context) error

// NoOpCompensation is a CompensationFunc for steps whose forward action needs
// no undo.
func NoOpCompensation(_ context.Context) error {
	return nil
}

// Step is one unit of forward work plus its optional undo. Steps are created
// and driven by their owning Transaction.
type Step struct {
	name         string
	action       ActionFunc
	compensation CompensationFunc

	executed    bool
	compensated bool
	result      any
	err         error
	compErr     error
}

// Name returns the step's name, unique within its transaction.
func (s *Step) Name() string {
	return s.name
}

// Executed reports whether the forward action completed without error.
func (s *Step) Executed() bool {
	return s.executed
}

// Result returns the value produced by the forward action, or nil if the
// step never executed.
func (s *Step) Result() any {
	return s.result
}

// Err returns the forward action's failure, if any.
func (s *Step) Err() error {
	return s.err
}

// CompensationErr returns the undo failure recorded during rollback, if any.
func (s *Step) CompensationErr() error {
	return s.compErr
}

// run invokes the forward action. The executed flag flips only when the
// action returns without error; a step that failed mid-action never becomes
// eligible for compensation.
func (s *Step) run(ctx context.Context) (any, error) {
	result, err := s.action(ctx)
	if err != nil {
		s.err = err
		return nil, err
	}
	s.executed = true
	s.result = result
	return result, nil
}

// compensate invokes the undo action. Only the owning transaction calls
// this, and only for executed steps. A missing compensation is a no-op.
func (s *Step) compensate(ctx context.Context) error {
	if s.compensation == nil {
		return nil
	}
	if err := s.compensation(ctx); err != nil {
		s.compErr = undoFailed(s.name, err)
		return s.compErr
	}
	s.compensated = true
	return nil
}
