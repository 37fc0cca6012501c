package unwind

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ReportStore persists terminal transaction status records for audit and CI
// summaries. It stores outcomes, not resumable state; the engine never reads
// a report back to continue work.
type ReportStore interface {
	// Save persists the status record, keyed by transaction ID.
	Save(ctx context.Context, status TransactionStatus) error

	// Load retrieves a status record by transaction ID.
	Load(ctx context.Context, id string) (*TransactionStatus, error)

	// List returns all stored status records.
	List(ctx context.Context) ([]TransactionStatus, error)
}

// MemoryReportStore keeps status records in memory, for tests or callers
// that only aggregate within one process.
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string]TransactionStatus
	order   []string
}

// NewMemoryReportStore creates a new in-memory report store.
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{
		reports: make(map[string]TransactionStatus),
	}
}

// Save stores the status record in memory.
func (m *MemoryReportStore) Save(ctx context.Context, status TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reports[status.ID]; !exists {
		m.order = append(m.order, status.ID)
	}
	m.reports[status.ID] = status
	return nil
}

// Load retrieves a status record from memory.
func (m *MemoryReportStore) Load(ctx context.Context, id string) (*TransactionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.reports[id]
	if !exists {
		return nil, fmt.Errorf("report %s not found", id)
	}
	return &status, nil
}

// List returns stored records in save order.
func (m *MemoryReportStore) List(ctx context.Context) ([]TransactionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]TransactionStatus, 0, len(m.order))
	for _, id := range m.order {
		statuses = append(statuses, m.reports[id])
	}
	return statuses, nil
}

// FileReportStore persists status records as one JSON file per transaction,
// suitable for collection as CI artifacts.
type FileReportStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileReportStore creates a file-based report store rooted at the given
// directory, creating it if needed.
func NewFileReportStore(basePath string) (*FileReportStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	return &FileReportStore{basePath: basePath}, nil
}

// Save writes the status record to <basePath>/<id>.json.
func (f *FileReportStore) Save(ctx context.Context, status TransactionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(f.filename(status.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	return nil
}

// Load reads a status record back from disk.
func (f *FileReportStore) Load(ctx context.Context, id string) (*TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("report %s not found", id)
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var status TransactionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &status, nil
}

// List returns every report in the directory, ordered by start time.
func (f *FileReportStore) List(ctx context.Context) ([]TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	statuses := make([]TransactionStatus, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read report file %s: %w", entry.Name(), err)
		}

		var status TransactionStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report %s: %w", entry.Name(), err)
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartTime.Before(statuses[j].StartTime)
	})
	return statuses, nil
}

// filename returns the full path for a transaction's report file.
func (f *FileReportStore) filename(id string) string {
	return filepath.Join(f.basePath, id+".json")
}
