package unwind

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSingleActiveTransaction(t *testing.T) {
	ctx := context.Background()
	manager := NewTransactionManager(testLogger())

	a, err := manager.Begin("a")
	require.NoError(t, err)

	_, err = manager.Begin("b")
	var conflict *ManagerConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.Active)

	// Once "a" terminates the slot opens up again.
	require.NoError(t, a.Commit(ctx))
	assert.Nil(t, manager.Active())

	b, err := manager.Begin("b")
	require.NoError(t, err)
	require.NoError(t, b.Rollback(ctx))
	assert.Nil(t, manager.Active())
}

func TestManagerReleasesOnRollback(t *testing.T) {
	ctx := context.Background()
	manager := NewTransactionManager(testLogger())

	txn, err := manager.Begin("doomed")
	require.NoError(t, err)

	_, execErr := txn.Execute(ctx, "fail",
		func(ctx context.Context) (any, error) { return nil, fmt.Errorf("boom") },
		nil,
	)
	require.Error(t, execErr)
	require.NoError(t, txn.Rollback(ctx))

	assert.Nil(t, manager.Active())

	_, err = manager.Begin("next")
	require.NoError(t, err)
}

func TestManagerHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	manager := NewTransactionManager(testLogger())

	first, err := manager.Begin("first")
	require.NoError(t, err)
	_, err = first.Execute(ctx, "step",
		func(ctx context.Context) (any, error) { return nil, nil },
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx))

	second, err := manager.Begin("second")
	require.NoError(t, err)
	require.NoError(t, second.Rollback(ctx))

	third, err := manager.Begin("third")
	require.NoError(t, err)

	history := manager.History()
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Name)
	assert.True(t, history[0].Committed)
	assert.Equal(t, "second", history[1].Name)
	assert.True(t, history[1].RolledBack)
	assert.Equal(t, "third", history[2].Name)
	assert.False(t, history[2].Committed)
	assert.False(t, history[2].RolledBack)

	stats := manager.Stats()
	assert.Equal(t, Stats{Total: 3, Committed: 1, RolledBack: 1, Active: 1}, stats)

	require.NoError(t, third.Commit(ctx))
	stats = manager.Stats()
	assert.Equal(t, Stats{Total: 3, Committed: 2, RolledBack: 1, Active: 0}, stats)
}

func TestManagerGetByID(t *testing.T) {
	ctx := context.Background()
	manager := NewTransactionManager(testLogger())

	txn, err := manager.Begin("lookup")
	require.NoError(t, err)
	require.NoError(t, txn.Commit(ctx))

	found, ok := manager.Get(txn.ID())
	require.True(t, ok)
	assert.Same(t, txn, found)

	_, ok = manager.Get("nope")
	assert.False(t, ok)
}

func TestManagerRunExportsReports(t *testing.T) {
	ctx := context.Background()
	reports := NewMemoryReportStore()
	manager := NewTransactionManager(testLogger()).WithReportStore(reports)

	err := manager.Run(ctx, "deploy", func(txn *Transaction) error {
		_, err := txn.Execute(ctx, "write",
			func(ctx context.Context) (any, error) { return nil, nil },
			nil,
		)
		return err
	})
	require.NoError(t, err)

	err = manager.Run(ctx, "broken", func(txn *Transaction) error {
		_, err := txn.Execute(ctx, "fail",
			func(ctx context.Context) (any, error) { return nil, fmt.Errorf("boom") },
			nil,
		)
		return err
	})
	require.Error(t, err)

	saved, err := reports.List(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "deploy", saved[0].Name)
	assert.True(t, saved[0].Committed)
	assert.Equal(t, "broken", saved[1].Name)
	assert.True(t, saved[1].RolledBack)
}

func TestManagerRunReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	manager := NewTransactionManager(testLogger())

	assert.Panics(t, func() {
		_ = manager.Run(ctx, "panicking", func(txn *Transaction) error {
			panic("boom")
		})
	})

	assert.Nil(t, manager.Active())
	stats := manager.Stats()
	assert.Equal(t, 1, stats.RolledBack)
}

func TestManagerConcurrentBegin(t *testing.T) {
	manager := NewTransactionManager(testLogger())

	const contenders = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func() {
			defer wg.Done()
			if _, err := manager.Begin("contender"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one goroutine may hold the manager.
	assert.Equal(t, int32(1), wins.Load())
	assert.NotNil(t, manager.Active())
	assert.Equal(t, 1, manager.Stats().Total)
}
