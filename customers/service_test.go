package customers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/ledger"
	"github.com/warp/incentive-engine/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

var clock = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*customers.Service, *sqlite.Store, *metrics.Metrics) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	svc := customers.NewService(store, incentive.DefaultTable(), "COP", zaptest.NewLogger(t), m)
	svc.Now = func() time.Time { return clock }
	return svc, store, m
}

func newCustomer(t *testing.T, svc *customers.Service, name string) ledger.CustomerID {
	t.Helper()
	c, err := svc.CreateCustomer(context.Background(), customers.NewCustomer{Name: name})
	require.NoError(t, err)
	return c.ID
}

func cop(minor int64) ledger.Amount { return ledger.NewAmount(minor, "COP") }

// counter reads an unlabelled counter from the registry.
func counter(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestCreateCustomer_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, customers.NewCustomer{Name: "  Camila Ortiz ", Email: "camila@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Camila Ortiz", c.Name)
	assert.Equal(t, customers.SegmentRetail, c.Segment)
	assert.NotEmpty(t, c.ID)
	assert.True(t, c.CreatedAt.Equal(clock))

	cases := []customers.NewCustomer{
		{Name: ""},
		{Name: "X", Segment: "vip"},
		{Name: "X", Email: "not-an-email"},
	}
	for _, in := range cases {
		_, err := svc.CreateCustomer(ctx, in)
		assert.ErrorIs(t, err, customers.ErrInvalidCustomer)
		assert.True(t, customers.IsClientError(err))
	}
}

func TestRecordSale_UnlocksCrossedTiers(t *testing.T) {
	// GIVEN: a new customer with no spend
	svc, _, m := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Andrés Gómez")

	// WHEN: one sale jumps from 0 to 5,500,000
	mv, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(5_500_000), Invoice: "F-100"})
	require.NoError(t, err)

	// THEN: levels 1 to 3 are unlocked in order
	assert.Equal(t, incentive.KindBelowFirst, mv.Before.Kind)
	assert.Equal(t, incentive.KindWithinRange, mv.After.Kind)
	assert.Equal(t, 3, mv.After.Level())
	require.Len(t, mv.Unlocked, 3)
	for i, u := range mv.Unlocked {
		assert.Equal(t, i+1, u.Level)
		assert.Equal(t, mv.Transaction.ID, u.TransactionID)
		assert.Equal(t, customers.UnlockPending, u.Status)
	}
	assert.Equal(t, "F-100", mv.Transaction.ReferenceID)

	// A sale inside the same band unlocks nothing
	mv, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(100_000)})
	require.NoError(t, err)
	assert.Empty(t, mv.Unlocked)

	assert.Equal(t, 2.0, counter(t, m, "incentive_sales_recorded_total"))
	assert.Equal(t, 3.0, counter(t, m, "incentive_tier_unlocks_total"))
}

func TestRecordSale_Rejects(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Luisa")

	_, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(0)})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: ledger.NewAmount(10, "USD")})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	_, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: "cus-ghost", Amount: cop(10)})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
	assert.True(t, customers.IsNotFound(err))

	// Retried request with the same key
	in := customers.SaleInput{CustomerID: id, Amount: cop(10), IdempotencyKey: "pos-42"}
	_, err = svc.RecordSale(ctx, in)
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.True(t, customers.IsConflict(err))
}

func TestRecordRefund_NeverRevokesUnlocks(t *testing.T) {
	// GIVEN: a customer at level 2
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Mateo")
	_, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(3_200_000)})
	require.NoError(t, err)

	// WHEN: most of it is refunded
	mv, err := svc.RecordRefund(ctx, customers.RefundInput{CustomerID: id, Amount: cop(3_000_000), Reason: "Returned necklace"})
	require.NoError(t, err)

	// THEN: standing drops but both unlocks remain
	assert.Equal(t, 2, mv.Before.Level())
	assert.Equal(t, 0, mv.After.Level())
	assert.Equal(t, "-3000000", mv.Transaction.Delta.Value.String())
	assert.Empty(t, mv.Unlocked)

	unlocks, err := svc.Unlocked(ctx, id)
	require.NoError(t, err)
	assert.Len(t, unlocks, 2)

	// Climbing back does not unlock the same levels twice
	mv, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(3_000_000)})
	require.NoError(t, err)
	assert.Empty(t, mv.Unlocked)
}

func TestRecordRefund_SpendFloorsAtZero(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Sara")

	_, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(200_000)})
	require.NoError(t, err)
	_, err = svc.RecordRefund(ctx, customers.RefundInput{CustomerID: id, Amount: cop(500_000)})
	require.NoError(t, err)

	spend, err := svc.Spend(ctx, id)
	require.NoError(t, err)
	assert.True(t, spend.IsZero())

	st, err := svc.Standing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incentive.KindBelowFirst, st.Kind)
	assert.Equal(t, 0.0, st.Percentage)
}

func TestRecordAdjustment(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Daniela")

	_, err := svc.RecordAdjustment(ctx, customers.AdjustmentInput{CustomerID: id, Amount: cop(1_000_000)})
	assert.ErrorIs(t, err, customers.ErrReasonRequired)

	_, err = svc.RecordAdjustment(ctx, customers.AdjustmentInput{CustomerID: id, Amount: cop(0), Reason: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	mv, err := svc.RecordAdjustment(ctx, customers.AdjustmentInput{
		CustomerID: id, Amount: cop(1_000_000), Reason: "Migrated from old POS", CreatedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxAdjustment, mv.Transaction.Type)
	require.Len(t, mv.Unlocked, 1)
	assert.Equal(t, 1, mv.Unlocked[0].Level)
}

func TestReverseTransaction(t *testing.T) {
	// GIVEN: a sale that was keyed by mistake
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Julián")
	sale, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(1_500_000)})
	require.NoError(t, err)

	// WHEN: it is reversed
	mv, err := svc.ReverseTransaction(ctx, sale.Transaction.ID, "", "cashier-7")
	require.NoError(t, err)

	// THEN: spend returns to zero and the reversal points back at the sale
	assert.Equal(t, ledger.TxReversal, mv.Transaction.Type)
	assert.Equal(t, string(sale.Transaction.ID), mv.Transaction.ReferenceID)
	assert.Equal(t, "cashier-7", mv.Transaction.CreatedBy)
	assert.Equal(t, 0, mv.After.Level())

	_, err = svc.ReverseTransaction(ctx, sale.Transaction.ID, "", "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	_, err = svc.ReverseTransaction(ctx, mv.Transaction.ID, "", "")
	assert.ErrorIs(t, err, customers.ErrNotReversible)

	_, err = svc.ReverseTransaction(ctx, "tx-unknown", "", "")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestSummaries_SortedBySpend(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	low := newCustomer(t, svc, "Ana")
	high := newCustomer(t, svc, "Bruno")
	newCustomer(t, svc, "Carla")

	_, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: low, Amount: cop(500_000)})
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: high, Amount: cop(12_000_000)})
	require.NoError(t, err)

	list, err := svc.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Bruno", list[0].Customer.Name)
	assert.Equal(t, "Ana", list[1].Customer.Name)
	assert.Equal(t, "Carla", list[2].Customer.Name)

	assert.Equal(t, 4, list[0].Standing.Level())
	assert.Equal(t, 5, list[0].Progress.Next.Level)
	assert.Equal(t, 50.0, list[1].Standing.Percentage)
	// Legacy composite: below tier 1 reports 0%
	assert.Equal(t, 0.0, list[1].Progress.Percentage)
}

func TestStatement_RunningSpend(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Elena")

	day := func(d int) time.Time { return time.Date(2025, 3, d, 12, 0, 0, 0, time.UTC) }
	_, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(800_000), EffectiveAt: day(1)})
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(400_000), EffectiveAt: day(5)})
	require.NoError(t, err)
	_, err = svc.RecordRefund(ctx, customers.RefundInput{CustomerID: id, Amount: cop(300_000), EffectiveAt: day(9)})
	require.NoError(t, err)

	lines, err := svc.Statement(ctx, id)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "800000", lines[0].SpendAfter.Value.String())
	assert.Equal(t, 0, lines[0].LevelAfter)
	assert.Equal(t, "1200000", lines[1].SpendAfter.Value.String())
	assert.Equal(t, 1, lines[1].LevelAfter)
	assert.Equal(t, "900000", lines[2].SpendAfter.Value.String())
}

func TestSyncUnlocks_FillsGaps(t *testing.T) {
	// GIVEN: spend imported straight into the ledger, bypassing the service
	svc, store, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Imported")
	require.NoError(t, store.Append(ctx, ledger.Transaction{
		ID: "tx-import", CustomerID: id, Type: ledger.TxAdjustment,
		EffectiveAt: clock, Delta: cop(10_000_000), Reason: "Import",
	}))

	// WHEN: syncing twice
	first, err := svc.SyncUnlocks(ctx, id)
	require.NoError(t, err)
	second, err := svc.SyncUnlocks(ctx, id)
	require.NoError(t, err)

	// THEN: levels 1 to 4 are recorded once
	assert.Len(t, first, 4)
	assert.Empty(t, second)
	assert.Empty(t, first[0].TransactionID)
}

func TestDeliverUnlock(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := newCustomer(t, svc, "Tomás")
	mv, err := svc.RecordSale(ctx, customers.SaleInput{CustomerID: id, Amount: cop(1_000_000)})
	require.NoError(t, err)
	require.Len(t, mv.Unlocked, 1)

	u, err := svc.DeliverUnlock(ctx, mv.Unlocked[0].ID)
	require.NoError(t, err)
	assert.Equal(t, customers.UnlockDelivered, u.Status)
	require.NotNil(t, u.DeliveredAt)
	assert.True(t, u.DeliveredAt.Equal(clock))

	_, err = svc.DeliverUnlock(ctx, u.ID)
	assert.ErrorIs(t, err, customers.ErrAlreadyDelivered)

	_, err = svc.DeliverUnlock(ctx, "unl-missing")
	assert.ErrorIs(t, err, customers.ErrUnlockNotFound)
}
