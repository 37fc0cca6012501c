// Package unwind runs an ordered sequence of side-effecting steps as a
// single logical unit, with best-effort compensation when anything fails.
//
// A Transaction executes steps synchronously, in insertion order.  Each step
// pairs a forward action with an optional undo.  If any action fails, the
// transaction is rolled back: every step that had already executed has its
// compensation invoked, in strict reverse order.  A failed undo is logged and
// recorded but never stops the unwind.
//
// # Overview
//
// 1. Run steps inside a scope:
//   - Use Run (or TransactionManager.Run) with a closure; the scope commits
//     on a normal return and rolls back on an error or panic, exactly once.
//   - Inside the closure, call Transaction.Execute for each step, supplying
//     the forward action and its compensation.
//
// 2. Arbitrate writers with a TransactionManager:
//   - Begin fails while another transaction is active, and every transaction
//     ever begun stays in the manager's history for audit.
//
// 3. Inspect outcomes:
//   - Transaction.Status returns a JSON-serializable record of every step,
//     the terminal state, and compensation counts.
//   - Attach a ReportStore to persist those records for CI summaries.
//
// 4. Declare ordering constraints up front with a Plan:
//   - AddStep with dependencies, Compile to a deterministic linear schedule,
//     then run it through a transaction.
//
// The engine is deliberately small: no cross-process transactions, no
// write-ahead logging, no automatic retry.  It guarantees in-process,
// single-writer, best-effort compensation and nothing more.
package unwind
