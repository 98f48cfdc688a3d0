// Package storagemanager is the top-level table registry: it maps
// table names to *store.Store instances, owns the single shared WAL
// log every table's records are interleaved into, and drives
// persistence and cold-reload against the on-disk table-dump layout.
package storagemanager

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/merge"
	"github.com/kasuganosora/coretable/store"
	"github.com/kasuganosora/coretable/wal"
)

// ErrTableNotFound and ErrIndexNotFound are the name resolution failures
// a StorageManager raises, per spec.md §7 (a missing column is reported
// by coltable.ErrColumnNotFound). ErrAlreadyExists is returned when a
// name is registered twice.
var (
	ErrTableNotFound = errors.New("storagemanager: table not found")
	ErrIndexNotFound = errors.New("storagemanager: index not found")
	ErrAlreadyExists = errors.New("storagemanager: table already registered")
)

// Logger is the minimal logging surface a StorageManager needs.
type Logger interface {
	Printf(format string, args ...any)
}

// tableEntry bundles everything the manager keeps about one registered
// table: its store plus the metadata needed to dump and reload it.
type tableEntry struct {
	store       *store.Store
	columns     []coltable.Column
	indexedCols []int
}

// StorageManager owns a directory of the form <dbPath>/log/, holding
// one shared log.bin (interleaving every table's WAL records) plus one
// subdirectory per table for dumps.
type StorageManager struct {
	mu     sync.RWMutex
	dbPath string
	tables map[string]*tableEntry

	merger *merge.TableMerger
	logger Logger

	logFile *os.File
	Log     *wal.BufferedLogger
}

// New creates a StorageManager rooted at dbPath, opening (creating if
// necessary) <dbPath>/log/log.bin for append.
func New(dbPath string, merger *merge.TableMerger, bufSize int, fsync bool, logger Logger) (*StorageManager, error) {
	logDir := filepath.Join(dbPath, "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("storagemanager: create log dir: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}

	f, err := os.OpenFile(filepath.Join(logDir, "log.bin"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storagemanager: open log.bin: %w", err)
	}

	return &StorageManager{
		dbPath:  dbPath,
		tables:  make(map[string]*tableEntry),
		merger:  merger,
		logger:  logger,
		logFile: f,
		Log:     wal.New(f, bufSize, fsync, logger),
	}, nil
}

// RegisterTable creates a new, empty table under name and adds it to
// the registry. Returns ErrAlreadyExists if name is already registered.
func (m *StorageManager) RegisterTable(name string, columns []coltable.Column, indexedCols []int) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	s := store.New(columns, indexedCols, m.merger, nil)
	m.tables[name] = &tableEntry{store: s, columns: columns, indexedCols: indexedCols}
	return s, nil
}

// adopt registers an already-constructed store (used by RecoverTable,
// which builds the store's main partition directly from dump files).
func (m *StorageManager) adopt(name string, entry *tableEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = entry
}

// GetTable returns the named table's store.
func (m *StorageManager) GetTable(name string) (*store.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return e.store, nil
}

// ResolveStore implements wal.StoreResolver, so a StorageManager can be
// handed directly to wal.Replay.
func (m *StorageManager) ResolveStore(name string) (*store.Store, error) {
	return m.GetTable(name)
}

// TableNames lists every registered table, in no particular order.
func (m *StorageManager) TableNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// Close flushes the shared log and closes its file.
func (m *StorageManager) Close() error {
	if err := m.Log.Flush(); err != nil {
		return err
	}
	return m.logFile.Close()
}

func (m *StorageManager) tableDir(name string) string {
	return filepath.Join(m.dbPath, "log", name)
}
