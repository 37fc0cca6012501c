package unwind

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// State is a transaction's position in its lifecycle.
type State int

const (
	StatePending State = iota
	StateCommitted
	StateRolledBack
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is an ordered sequence of steps executed as one logical unit.
// Steps run synchronously, in insertion order, on the caller's goroutine;
// there is no parallelism across steps because compensation correctness
// depends on a strict, deterministic reverse order.
//
// A Transaction has exactly one owner. The internal mutex exists so that a
// TransactionManager on another goroutine can read state and status safely;
// it does not make concurrent Execute calls meaningful.
type Transaction struct {
	mu    sync.Mutex
	id    string
	name  string
	state State
	steps []*Step

	// outputs maps step name to the step's result, for lookup by later
	// steps and by compensations.
	outputs *btree.Map[string, any]

	journal *Journal
	logger  *slog.Logger

	startTime time.Time
	endTime   time.Time

	compAttempted int
	compFailed    int

	// failed holds the first step failure; once set, the transaction only
	// accepts Rollback.
	failed *StepExecutionError

	// finishing is the terminal state a caller has claimed but not yet
	// applied; it keeps a redundant Commit or Rollback from transitioning
	// twice while compensations are still running.
	finishing State

	// onTerminal is invoked exactly once, on the transition to a terminal
	// state. The manager uses it to release the active slot.
	onTerminal func(*Transaction)
}

// NewTransaction begins a transaction. An empty name gets a generated,
// timestamp-based one. The logger may be nil, in which case slog.Default()
// is used.
func NewTransaction(name string, logger *slog.Logger) *Transaction {
	if name == "" {
		name = "txn-" + time.Now().UTC().Format("20060102-150405.000")
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Transaction{
		id:        id,
		name:      name,
		state:     StatePending,
		steps:     make([]*Step, 0),
		outputs:   btree.NewMap[string, any](8),
		journal:   NewJournal(id),
		logger:    logger,
		startTime: time.Now(),
	}
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() string {
	return t.id
}

// Name returns the transaction's name.
func (t *Transaction) Name() string {
	return t.name
}

// State returns the transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Journal returns the transaction's event journal.
func (t *Transaction) Journal() *Journal {
	return t.journal
}

// Steps returns the recorded steps in insertion order, including any step
// whose action failed.
func (t *Transaction) Steps() []*Step {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*Step(nil), t.steps...)
}

// Result returns the output of a previously executed step.
func (t *Transaction) Result(name string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.outputs.Get(name)
}

// ResultOf returns a step output asserted to a concrete type. It returns the
// zero value and false when the step has no output or the type does not
// match.
func ResultOf[R any](t *Transaction, name string) (R, bool) {
	var zero R
	value, ok := t.Result(name)
	if !ok {
		return zero, false
	}
	typed, ok := value.(R)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Execute runs one step synchronously and appends it to the transaction.
// The step is recorded whether or not its action succeeds, so a failing step
// still appears, by name, in Status. On action failure the returned error is
// a *StepExecutionError wrapping the step name and cause; the transaction
// then refuses further Execute calls and must be rolled back.
func (t *Transaction) Execute(ctx context.Context, name string, action ActionFunc, compensation CompensationFunc) (any, error) {
	t.mu.Lock()
	if t.state != StatePending {
		state := t.state
		t.mu.Unlock()
		return nil, &TransactionStateError{Op: "execute", State: state}
	}
	if t.failed != nil {
		failed := t.failed.Step
		t.mu.Unlock()
		return nil, &TransactionStateError{
			Op:    "execute",
			State: StatePending,
			Err:   fmt.Errorf("step %q already failed, rollback required", failed),
		}
	}
	for _, s := range t.steps {
		if s.name == name {
			t.mu.Unlock()
			return nil, &TransactionStateError{
				Op:    "execute",
				State: StatePending,
				Err:   fmt.Errorf("transaction %q already has a step named %q", t.name, name),
			}
		}
	}
	t.mu.Unlock()

	step := &Step{name: name, action: action, compensation: compensation}

	t.record(name, EventStarted)
	t.logger.Info("step_started", "txn", t.name, "step", name)

	result, err := step.run(ctx)

	t.mu.Lock()
	t.steps = append(t.steps, step)
	if err != nil {
		t.failed = stepFailed(name, err)
		failure := t.failed
		t.mu.Unlock()

		t.record(name, EventFailed)
		t.logger.Error("step_failed", "txn", t.name, "step", name, "error", err)
		return nil, failure
	}
	t.outputs.Set(name, result)
	t.mu.Unlock()

	t.record(name, EventSucceeded)
	t.logger.Info("step_succeeded", "txn", t.name, "step", name)
	return result, nil
}

// Commit marks the transaction committed. A second Commit is a harmless
// no-op; Commit after Rollback is a state error. A transaction holding a
// failed step fails Commit's post-condition: it is rolled back first, so
// Commit never leaves the transaction in a non-terminal state.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.state == StateCommitted || t.finishing == StateCommitted:
		t.mu.Unlock()
		t.logger.Warn("commit_ignored", "txn", t.name, "reason", "already committed")
		return nil
	case t.state == StateRolledBack || t.finishing == StateRolledBack:
		t.mu.Unlock()
		return &TransactionStateError{Op: "commit", State: StateRolledBack}
	}
	failed := t.failed
	if failed == nil {
		t.finishing = StateCommitted
	}
	t.mu.Unlock()

	if failed != nil {
		// Post-condition violated: a recorded step never executed. Fall
		// back to rollback before surfacing the failure.
		if err := t.Rollback(ctx); err != nil {
			t.logger.Error("commit_fallback_rollback_failed", "txn", t.name, "error", err)
		}
		return &TransactionStateError{Op: "commit", State: StateRolledBack, Err: failed}
	}

	t.mu.Lock()
	t.state = StateCommitted
	t.endTime = time.Now()
	steps := len(t.steps)
	t.mu.Unlock()

	t.logger.Info("transaction_committed", "txn", t.name, "steps", steps)
	t.terminal()
	return nil
}

// Rollback compensates executed steps in strict reverse insertion order.
// Individual compensation failures are logged, recorded on the step, and
// counted, but never stop the unwind and never propagate; inspect Status for
// the attempted and failed counts. A second Rollback is a harmless no-op;
// Rollback after Commit is a state error.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.state == StateRolledBack || t.finishing == StateRolledBack:
		t.mu.Unlock()
		t.logger.Warn("rollback_ignored", "txn", t.name, "reason", "already rolled back")
		return nil
	case t.state == StateCommitted || t.finishing == StateCommitted:
		t.mu.Unlock()
		return &TransactionStateError{Op: "rollback", State: StateCommitted}
	}
	t.finishing = StateRolledBack
	steps := append([]*Step(nil), t.steps...)
	t.mu.Unlock()

	attempted, failed := 0, 0
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if !step.executed || step.compensation == nil {
			continue
		}

		t.record(step.name, EventUndoStarted)
		t.logger.Warn("compensation_started", "txn", t.name, "step", step.name)
		attempted++

		if err := step.compensate(ctx); err != nil {
			failed++
			t.record(step.name, EventUndoFailed)
			t.logger.Warn("compensation_failed", "txn", t.name, "step", step.name, "error", err)
			continue
		}
		t.record(step.name, EventUndoFinished)
	}

	t.mu.Lock()
	t.state = StateRolledBack
	t.endTime = time.Now()
	t.compAttempted = attempted
	t.compFailed = failed
	t.mu.Unlock()

	t.logger.Info("transaction_rolled_back",
		"txn", t.name,
		"compensations_attempted", attempted,
		"compensations_failed", failed,
	)
	t.terminal()
	return nil
}

// record writes a journal event; journal rejections indicate a sequencing
// bug and are logged rather than surfaced to the step caller.
func (t *Transaction) record(step string, eventType EventType) {
	if err := t.journal.Record(Event{Txn: t.id, Step: step, Type: eventType}); err != nil {
		t.logger.Warn("journal_record_failed", "txn", t.name, "step", step, "error", err)
	}
}

// terminal fires the terminal-state hook. Commit and Rollback each reach
// this at most once because redundant calls return before transitioning.
func (t *Transaction) terminal() {
	if t.onTerminal != nil {
		t.onTerminal(t)
	}
}
