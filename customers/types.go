/*
Package customers ties customers, their spend ledger and the incentive
ladder together.

PURPOSE:
  The dashboard's customer list, customer drawer and progress bars all need
  the same thing: who the customer is, how much they have spent, and where
  that spend puts them on the tier ladder. This package owns that join, and
  records a prize unlock each time a customer crosses a tier threshold.

KEY TYPES:
  Customer:   a retail or wholesale buyer
  Unlock:     a prize earned by crossing a tier, pending until delivered
  Movement:   the effect of one ledger write (before/after standing, unlocks)
  Summary:    customer + spend + standing, one row of the customer list

STORAGE:
  Directory and UnlockStore are interfaces. store/sqlite implements both.

SEE ALSO:
  - service.go:  operations
  - incentive/:  the tier ladder
  - ledger/:     the spend log
*/
package customers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/ledger"
)

// =============================================================================
// CUSTOMER
// =============================================================================

type Segment string

const (
	SegmentRetail    Segment = "retail"
	SegmentWholesale Segment = "wholesale"
)

func (s Segment) Valid() bool {
	return s == SegmentRetail || s == SegmentWholesale
}

type Customer struct {
	ID        ledger.CustomerID
	Name      string
	Email     string
	Phone     string
	Segment   Segment
	CreatedAt time.Time
}

// NewCustomerID returns a fresh customer identifier.
func NewCustomerID() ledger.CustomerID {
	return ledger.CustomerID("cus-" + uuid.New().String())
}

// Directory persists customers.
type Directory interface {
	SaveCustomer(ctx context.Context, c Customer) error

	// GetCustomer returns nil, nil when id is unknown.
	GetCustomer(ctx context.Context, id ledger.CustomerID) (*Customer, error)

	ListCustomers(ctx context.Context) ([]Customer, error)
}

// =============================================================================
// UNLOCKS
// =============================================================================

type UnlockStatus string

const (
	UnlockPending   UnlockStatus = "pending"
	UnlockDelivered UnlockStatus = "delivered"
)

// Unlock records that a customer reached a tier. There is at most one per
// customer and level; refunds never revoke it.
type Unlock struct {
	ID            string
	CustomerID    ledger.CustomerID
	Level         int
	Threshold     incentive.Money
	Prize         string
	TransactionID ledger.TransactionID // empty when found by the scanner
	UnlockedAt    time.Time
	Status        UnlockStatus
	DeliveredAt   *time.Time
}

func newUnlock(customerID ledger.CustomerID, t incentive.Tier, txID ledger.TransactionID, at time.Time) Unlock {
	return Unlock{
		ID:            "unl-" + uuid.New().String(),
		CustomerID:    customerID,
		Level:         t.Level,
		Threshold:     t.Threshold,
		Prize:         t.Prize,
		TransactionID: txID,
		UnlockedAt:    at,
		Status:        UnlockPending,
	}
}

// UnlockStore persists prize unlocks.
type UnlockStore interface {
	// SaveUnlocks inserts unlocks, skipping any customer+level that already
	// exists, and returns the ones actually inserted.
	SaveUnlocks(ctx context.Context, unlocks []Unlock) ([]Unlock, error)

	ListUnlocks(ctx context.Context, customerID ledger.CustomerID) ([]Unlock, error)

	// GetUnlock returns nil, nil when id is unknown.
	GetUnlock(ctx context.Context, id string) (*Unlock, error)

	// MarkDelivered sets status delivered. ErrUnlockNotFound / ErrAlreadyDelivered.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
}

// =============================================================================
// RESULTS
// =============================================================================

// Movement is the effect of one ledger write on a customer's standing.
type Movement struct {
	Transaction ledger.Transaction
	Before      incentive.Standing
	After       incentive.Standing
	Unlocked    []Unlock
}

// Summary is one customer as the dashboard lists them.
type Summary struct {
	Customer Customer
	Spend    ledger.Amount
	Standing incentive.Standing
	Progress incentive.Progress
}
