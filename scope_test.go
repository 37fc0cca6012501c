package unwind

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommitsOnNormalReturn(t *testing.T) {
	ctx := context.Background()

	var txn *Transaction
	err := Run(ctx, testLogger(), "scope-ok", func(tx *Transaction) error {
		txn = tx
		_, err := tx.Execute(ctx, "step",
			func(ctx context.Context) (any, error) { return "done", nil },
			nil,
		)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, txn.State())
}

func TestRunRollsBackOnError(t *testing.T) {
	ctx := context.Background()

	undoCalls := 0
	var txn *Transaction
	err := Run(ctx, testLogger(), "scope-err", func(tx *Transaction) error {
		txn = tx
		if _, err := tx.Execute(ctx, "applied",
			func(ctx context.Context) (any, error) { return nil, nil },
			func(ctx context.Context) error {
				undoCalls++
				return nil
			},
		); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, "fail",
			func(ctx context.Context) (any, error) { return nil, fmt.Errorf("boom") },
			nil,
		)
		return err
	})

	// The original step failure comes back after the unwind completes.
	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fail", stepErr.Step)

	assert.Equal(t, StateRolledBack, txn.State())
	assert.Equal(t, 1, undoCalls)
}

func TestRunRollsBackOnExplicitAbort(t *testing.T) {
	ctx := context.Background()

	abort := fmt.Errorf("precondition not met")
	var txn *Transaction
	err := Run(ctx, testLogger(), "scope-abort", func(tx *Transaction) error {
		txn = tx
		return abort
	})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, StateRolledBack, txn.State())
}

func TestRunRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()

	undoCalls := 0
	var txn *Transaction
	assert.PanicsWithValue(t, "unexpected", func() {
		_ = Run(ctx, testLogger(), "scope-panic", func(tx *Transaction) error {
			txn = tx
			_, err := tx.Execute(ctx, "applied",
				func(ctx context.Context) (any, error) { return nil, nil },
				func(ctx context.Context) error {
					undoCalls++
					return nil
				},
			)
			require.NoError(t, err)
			panic("unexpected")
		})
	})

	assert.Equal(t, StateRolledBack, txn.State())
	assert.Equal(t, 1, undoCalls)
}
