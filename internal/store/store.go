// Package store provides storage backends for generation receipts.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// Store is an append-only log of settled generation attempts.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	// PruneReceipts removes receipts whose Time is before the given unix second
	// and returns how many were removed.
	PruneReceipts(before int64) (int, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key/value DSNs and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks a backend for dsn: in-memory when empty, otherwise by DetectDSNType.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("store.Open: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

// InMemoryStore keeps receipts in memory; they are lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts []models.Receipt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) PruneReceipts(before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.receipts[:0]
	for _, r := range s.receipts {
		if r.Time >= before {
			kept = append(kept, r)
		}
	}
	removed := len(s.receipts) - len(kept)
	s.receipts = kept
	return removed, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
