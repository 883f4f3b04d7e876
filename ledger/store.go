package ledger

import (
	"context"
	"time"
)

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
// Corrections are made via reversal transactions.
//
// Implementations:
//   - store/sqlite: production SQLite
//   - ledger/memory: in-memory for tests
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key already exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for a customer, ordered by EffectiveAt.
	Load(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// LoadRange returns the customer's transactions in [from, to].
	LoadRange(ctx context.Context, customerID CustomerID, from, to time.Time) ([]Transaction, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TransactionFinder is implemented by stores that can look up single
// transactions. Needed for reversals.
type TransactionFinder interface {
	// GetTransaction returns nil, nil when id is unknown.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	IsReversed(ctx context.Context, id TransactionID) (bool, error)
}
