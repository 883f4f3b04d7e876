/*
ledger.go - Append-only spend log

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A wrong sale is never edited. A TxReversal pointing at it is appended,
  both stay in the log, and the net effect on spend is zero.

EXAMPLE FLOW:
  1. Sale of 2,000,000:      TxSale     +2,000,000
  2. Ring returned:          TxRefund     -300,000
  3. Sale keyed twice:       TxSale     +2,000,000
  4. Duplicate undone:       TxReversal -2,000,000

  Cumulative spend: 1,700,000
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the source of truth for customer spend.
type Ledger interface {
	Append(ctx context.Context, tx Transaction) error
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns the customer's log chronologically.
	Transactions(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// TransactionsInRange returns transactions in [from, to].
	TransactionsInRange(ctx context.Context, customerID CustomerID, from, to time.Time) ([]Transaction, error)

	// SpendAt replays the log up to and including at.
	SpendAt(ctx context.Context, customerID CustomerID, at time.Time, currency Currency) (Amount, error)
}

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, customerID CustomerID) ([]Transaction, error) {
	return l.Store.Load(ctx, customerID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, customerID CustomerID, from, to time.Time) ([]Transaction, error) {
	return l.Store.LoadRange(ctx, customerID, from, to)
}

func (l *DefaultLedger) SpendAt(ctx context.Context, customerID CustomerID, at time.Time, currency Currency) (Amount, error) {
	txs, err := l.Store.Load(ctx, customerID)
	if err != nil {
		return Amount{}, err
	}

	var upTo []Transaction
	for _, tx := range txs {
		if tx.EffectiveAt.After(at) {
			break
		}
		upTo = append(upTo, tx)
	}
	return CumulativeSpend(upTo, currency), nil
}

// =============================================================================
// SPEND REPLAY
// =============================================================================

// CumulativeSpend sums the deltas of txs in currency. Transactions in other
// currencies are ignored. The result is floored at zero: over-refunds do
// not push a customer below "no spend".
func CumulativeSpend(txs []Transaction, currency Currency) Amount {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Delta.Currency != currency {
			continue
		}
		total = total.Add(tx.Delta.Value)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Amount{Value: total, Currency: currency}
}

// RunningSpend returns the cumulative spend after each transaction, in the
// order given.
func RunningSpend(txs []Transaction, currency Currency) []Amount {
	out := make([]Amount, len(txs))
	total := decimal.Zero
	for i, tx := range txs {
		if tx.Delta.Currency == currency {
			total = total.Add(tx.Delta.Value)
		}
		v := total
		if v.IsNegative() {
			v = decimal.Zero
		}
		out[i] = Amount{Value: v, Currency: currency}
	}
	return out
}

// Reversal builds the transaction that undoes tx.
func Reversal(tx Transaction, reason string, at time.Time) Transaction {
	return Transaction{
		ID:             TransactionID("rev-" + string(tx.ID)),
		CustomerID:     tx.CustomerID,
		Type:           TxReversal,
		EffectiveAt:    at,
		Delta:          tx.Delta.Neg(),
		ReferenceID:    string(tx.ID),
		Reason:         reason,
		IdempotencyKey: "reversal-" + string(tx.ID),
	}
}
