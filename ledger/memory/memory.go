// Package memory provides an in-memory ledger.Store for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/incentive-engine/ledger"
)

type Store struct {
	mu           sync.RWMutex
	transactions map[ledger.CustomerID][]ledger.Transaction
	byID         map[ledger.TransactionID]ledger.Transaction
	reversed     map[ledger.TransactionID]bool
	idempotency  map[string]bool
}

func New() *Store {
	return &Store{
		transactions: make(map[ledger.CustomerID][]ledger.Transaction),
		byID:         make(map[ledger.TransactionID]ledger.Transaction),
		reversed:     make(map[ledger.TransactionID]bool),
		idempotency:  make(map[string]bool),
	}
}

var (
	_ ledger.Store             = (*Store)(nil)
	_ ledger.TransactionFinder = (*Store)(nil)
)

// Append adds a single transaction. Append-only.
func (m *Store) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(tx); err != nil {
		return err
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Store) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, tx := range txs {
		if err := m.checkLocked(tx); err != nil {
			return err
		}
		if tx.IdempotencyKey != "" {
			if seen[tx.IdempotencyKey] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
	}
	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

func (m *Store) checkLocked(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if tx.Type == ledger.TxReversal && m.reversed[ledger.TransactionID(tx.ReferenceID)] {
		return ledger.ErrAlreadyReversed
	}
	return nil
}

func (m *Store) appendLocked(tx ledger.Transaction) {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	txs := m.transactions[tx.CustomerID]

	// Insert after any entry with the same EffectiveAt to keep write order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.CustomerID] = txs

	m.byID[tx.ID] = tx
	if tx.Type == ledger.TxReversal {
		m.reversed[ledger.TransactionID(tx.ReferenceID)] = true
	}
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Store) Load(_ context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[customerID]))
	copy(result, m.transactions[customerID])
	return result, nil
}

func (m *Store) LoadRange(_ context.Context, customerID ledger.CustomerID, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions[customerID] {
		if !tx.EffectiveAt.Before(from) && !tx.EffectiveAt.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Store) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Store) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Store) IsReversed(_ context.Context, id ledger.TransactionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reversed[id], nil
}
