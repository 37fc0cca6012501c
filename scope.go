package unwind

import (
	"context"
	"log/slog"
)

// Run executes fn inside a new transaction with scoped commit/rollback
// semantics: a normal return commits, an error return rolls back and returns
// fn's error after the unwind completes, and a panic rolls back before
// re-panicking. Exactly one terminal transition happens on every exit path.
func Run(ctx context.Context, logger *slog.Logger, name string, fn func(txn *Transaction) error) error {
	return runScoped(ctx, NewTransaction(name, logger), fn)
}

func runScoped(ctx context.Context, txn *Transaction, fn func(txn *Transaction) error) error {
	defer func() {
		if r := recover(); r != nil {
			// The unwind must happen even on a panic; the panic itself
			// belongs to the caller.
			_ = txn.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(txn); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}

	// Commit falls back to rollback itself when its post-condition fails,
	// so the transaction is terminal either way.
	return txn.Commit(ctx)
}
