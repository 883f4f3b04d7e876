/*
Package ledger records customer spend as an append-only transaction log.

PURPOSE:
  The incentive ladder is driven by a customer's cumulative spend. That
  number is never stored directly; it is recomputed by replaying the
  customer's transactions. Sales add to it, refunds subtract, adjustments
  correct it, reversals undo a single earlier transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount:      a decimal quantity in a currency (minor units)
  - Transaction: an immutable ledger entry
  - CustomerID / TransactionID: type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only reversed
  2. Precision: decimal.Decimal, never float64, for money
  3. Auditability: every entry carries reason, reference and idempotency key

USAGE:
  tx := ledger.Transaction{
      ID:         ledger.NewTransactionID(),
      CustomerID: "cus-123",
      Type:       ledger.TxSale,
      Delta:      ledger.NewAmount(250_000, "COP"),
  }

SEE ALSO:
  - ledger.go:  Ledger interface and spend replay
  - store.go:   persistence interface
  - memory/:    in-memory store for tests
*/
package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// AMOUNT
// =============================================================================

// Currency is an ISO 4217 code. Amounts are always in its minor unit.
type Currency string

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(minor int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(minor), Currency: currency}
}

// ParseAmount reads a decimal string such as "125000" or "125000.50".
func ParseAmount(s string, currency Currency) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, &AmountError{Input: s, Err: err}
	}
	return Amount{Value: d, Currency: currency}, nil
}

func (a Amount) Zero() Amount        { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Neg() Amount         { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsNegative() bool    { return a.Value.IsNegative() }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }
func (a Amount) IsPositive() bool    { return a.Value.IsPositive() }
func (a Amount) String() string      { return a.Value.String() + " " + string(a.Currency) }

var (
	maxMoney = decimal.NewFromInt(math.MaxInt64)
	minMoney = decimal.NewFromInt(math.MinInt64)
)

// ToMoney converts to whole minor units for the incentive ladder.
// Fractions of a minor unit are dropped; values outside int64 saturate.
func ToMoney(a Amount) incentive.Money {
	v := a.Value.Floor()
	switch {
	case v.GreaterThan(maxMoney):
		return incentive.Money(math.MaxInt64)
	case v.LessThan(minMoney):
		return incentive.Money(math.MinInt64)
	}
	return incentive.Money(v.IntPart())
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string

func NewTransactionID() TransactionID {
	return TransactionID("tx-" + uuid.New().String())
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxSale       TransactionType = "sale"       // Purchase by the customer (positive)
	TxRefund     TransactionType = "refund"     // Money returned to the customer (negative)
	TxAdjustment TransactionType = "adjustment" // Manual correction by staff (either sign)
	TxReversal   TransactionType = "reversal"   // Undo of ReferenceID
)

type Transaction struct {
	ID             TransactionID
	CustomerID     CustomerID
	Type           TransactionType
	EffectiveAt    time.Time
	Delta          Amount
	ReferenceID    string // invoice number, or the reversed transaction
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}
