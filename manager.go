package unwind

import (
	"context"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Stats are aggregate counts over a manager's history.
type Stats struct {
	Total      int `json:"total"`
	Committed  int `json:"committed"`
	RolledBack int `json:"rolled_back"`
	Active     int `json:"active"`
}

// TransactionManager arbitrates at most one active transaction at a time and
// retains every transaction it ever began for audit. The check-and-set of
// the active slot is mutex-guarded, so a manager may be shared across
// goroutines; each transaction it hands out still belongs to a single owner.
type TransactionManager struct {
	mu      sync.Mutex
	active  *Transaction
	history []*Transaction

	// byID indexes every transaction ever begun, for lookup without
	// holding the history lock.
	byID *xsync.MapOf[string, *Transaction]

	logger  *slog.Logger
	reports ReportStore
}

// NewTransactionManager creates a manager. The logger may be nil, in which
// case slog.Default() is used.
func NewTransactionManager(logger *slog.Logger) *TransactionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionManager{
		history: make([]*Transaction, 0),
		byID:    xsync.NewMapOf[string, *Transaction](),
		logger:  logger,
	}
}

// WithReportStore attaches a store that receives each transaction's final
// status when it reaches a terminal state.
func (m *TransactionManager) WithReportStore(store ReportStore) *TransactionManager {
	m.reports = store
	return m
}

// Begin starts a new transaction. It fails with *ManagerConflictError while
// another transaction is active. The transaction is appended to history
// immediately, so even an abandoned transaction stays auditable; the active
// slot is released when the transaction reaches a terminal state.
func (m *TransactionManager) Begin(name string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, &ManagerConflictError{Active: m.active.name}
	}

	txn := NewTransaction(name, m.logger)
	txn.onTerminal = m.release
	m.active = txn
	m.history = append(m.history, txn)
	m.byID.Store(txn.id, txn)

	m.logger.Info("transaction_begun", "txn", txn.name, "id", txn.id)
	return txn, nil
}

// Run begins a managed transaction and applies the scoped commit/rollback
// protocol; the active slot is released on every exit path, panics included.
func (m *TransactionManager) Run(ctx context.Context, name string, fn func(txn *Transaction) error) error {
	txn, err := m.Begin(name)
	if err != nil {
		return err
	}
	return runScoped(ctx, txn, fn)
}

// release clears the active slot and exports the final status. It runs on
// the terminal transition of a transaction this manager began.
func (m *TransactionManager) release(txn *Transaction) {
	m.mu.Lock()
	if m.active == txn {
		m.active = nil
	}
	m.mu.Unlock()

	if m.reports != nil {
		if err := m.reports.Save(context.Background(), txn.Status()); err != nil {
			m.logger.Warn("report_save_failed", "txn", txn.Name(), "error", err)
		}
	}
}

// Active returns the currently active transaction, or nil.
func (m *TransactionManager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// Get returns a transaction from this manager's history by ID.
func (m *TransactionManager) Get(id string) (*Transaction, bool) {
	return m.byID.Load(id)
}

// History returns status records for every transaction ever begun, oldest
// first.
func (m *TransactionManager) History() []TransactionStatus {
	m.mu.Lock()
	transactions := append([]*Transaction(nil), m.history...)
	m.mu.Unlock()

	statuses := make([]TransactionStatus, 0, len(transactions))
	for _, txn := range transactions {
		statuses = append(statuses, txn.Status())
	}
	return statuses
}

// Stats returns aggregate counts over the manager's history.
func (m *TransactionManager) Stats() Stats {
	m.mu.Lock()
	transactions := append([]*Transaction(nil), m.history...)
	m.mu.Unlock()

	stats := Stats{Total: len(transactions)}
	for _, txn := range transactions {
		switch txn.State() {
		case StateCommitted:
			stats.Committed++
		case StateRolledBack:
			stats.RolledBack++
		default:
			stats.Active++
		}
	}
	return stats
}
