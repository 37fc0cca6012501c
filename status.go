package unwind

import (
	"time"
)

// StepStatus is the JSON-serializable record of one step's outcome.
type StepStatus struct {
	Name              string  `json:"name"`
	Executed          bool    `json:"executed"`
	Error             *string `json:"error"`
	Compensated       bool    `json:"compensated"`
	CompensationError *string `json:"compensation_error,omitempty"`
}

// TransactionStatus is the JSON-serializable record of a whole transaction,
// suitable for CLI summary output or CI step-summary files.
type TransactionStatus struct {
	ID                     string       `json:"id"`
	Name                   string       `json:"name"`
	Steps                  []StepStatus `json:"steps"`
	Committed              bool         `json:"committed"`
	RolledBack             bool         `json:"rolled_back"`
	CompensationsAttempted int          `json:"compensations_attempted"`
	CompensationsFailed    int          `json:"compensations_failed"`
	StartTime              time.Time    `json:"start_time"`
	EndTime                *time.Time   `json:"end_time,omitempty"`
}

// Status returns a snapshot of the transaction: every recorded step in
// insertion order, the terminal flags, and the compensation counts from the
// last rollback.
func (t *Transaction) Status() TransactionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	steps := make([]StepStatus, 0, len(t.steps))
	for _, step := range t.steps {
		steps = append(steps, StepStatus{
			Name:              step.name,
			Executed:          step.executed,
			Error:             errString(step.err),
			Compensated:       step.compensated,
			CompensationError: errString(step.compErr),
		})
	}

	status := TransactionStatus{
		ID:                     t.id,
		Name:                   t.name,
		Steps:                  steps,
		Committed:              t.state == StateCommitted,
		RolledBack:             t.state == StateRolledBack,
		CompensationsAttempted: t.compAttempted,
		CompensationsFailed:    t.compFailed,
		StartTime:              t.startTime,
	}
	if !t.endTime.IsZero() {
		end := t.endTime
		status.EndTime = &end
	}
	return status
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
