package customers

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/ledger"
	"github.com/warp/incentive-engine/metrics"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs every customer-facing operation. Ledger writes go through a
// single mutex so the before/after standing of a movement is consistent.
type Service struct {
	Ledger    ledger.Ledger
	Finder    ledger.TransactionFinder
	Directory Directory
	Unlocks   UnlockStore
	Table     incentive.Table
	Currency  ledger.Currency
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time

	mu sync.Mutex
}

// Store is everything the service needs from persistence. store/sqlite
// satisfies it.
type Store interface {
	ledger.Store
	ledger.TransactionFinder
	Directory
	UnlockStore
}

// NewService wires a service onto a single store.
func NewService(store Store, table incentive.Table, currency ledger.Currency, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		Ledger:    ledger.NewLedger(store),
		Finder:    store,
		Directory: store,
		Unlocks:   store,
		Table:     table,
		Currency:  currency,
		Log:       log,
		Metrics:   m,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type NewCustomer struct {
	ID      ledger.CustomerID // optional, generated when empty
	Name    string
	Email   string
	Phone   string
	Segment Segment // defaults to retail
}

func (s *Service) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	c := Customer{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Segment:   in.Segment,
		CreatedAt: s.now(),
	}
	if c.ID == "" {
		c.ID = NewCustomerID()
	}
	if c.Segment == "" {
		c.Segment = SegmentRetail
	}
	if err := validateCustomer(c); err != nil {
		return nil, err
	}

	if err := s.Directory.SaveCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("save customer: %w", err)
	}
	s.log().Info("customer created",
		zap.String("customer_id", string(c.ID)),
		zap.String("segment", string(c.Segment)))
	return &c, nil
}

func validateCustomer(c Customer) error {
	if c.Name == "" {
		return &FieldError{Field: "name", Message: "is required"}
	}
	if !c.Segment.Valid() {
		return &FieldError{Field: "segment", Message: fmt.Sprintf("must be retail or wholesale, got %q", c.Segment)}
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return &FieldError{Field: "email", Message: "is not a valid address"}
		}
	}
	return nil
}

// Customer returns the customer or ledger.ErrCustomerNotFound.
func (s *Service) Customer(ctx context.Context, id ledger.CustomerID) (*Customer, error) {
	c, err := s.Directory.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrCustomerNotFound, id)
	}
	return c, nil
}

// =============================================================================
// SPEND AND STANDING
// =============================================================================

// Spend is the customer's cumulative spend, floored at zero.
func (s *Service) Spend(ctx context.Context, id ledger.CustomerID) (ledger.Amount, error) {
	txs, err := s.Ledger.Transactions(ctx, id)
	if err != nil {
		return ledger.Amount{}, fmt.Errorf("load transactions: %w", err)
	}
	return ledger.CumulativeSpend(txs, s.Currency), nil
}

func (s *Service) evaluate(spend ledger.Amount) incentive.Standing {
	st := s.Table.Evaluate(ledger.ToMoney(spend))
	s.Metrics.StandingEvaluated(st.Kind.String())
	return st
}

func (s *Service) Standing(ctx context.Context, id ledger.CustomerID) (incentive.Standing, error) {
	if _, err := s.Customer(ctx, id); err != nil {
		return incentive.Standing{}, err
	}
	spend, err := s.Spend(ctx, id)
	if err != nil {
		return incentive.Standing{}, err
	}
	return s.evaluate(spend), nil
}

func (s *Service) Summary(ctx context.Context, id ledger.CustomerID) (*Summary, error) {
	c, err := s.Customer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, *c)
}

func (s *Service) summarize(ctx context.Context, c Customer) (*Summary, error) {
	spend, err := s.Spend(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Customer: c,
		Spend:    spend,
		Standing: s.evaluate(spend),
		Progress: s.Table.Progress(ledger.ToMoney(spend)),
	}, nil
}

// Summaries lists every customer, highest spend first. Ties keep name order.
func (s *Service) Summaries(ctx context.Context) ([]Summary, error) {
	list, err := s.Directory.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	out := make([]Summary, 0, len(list))
	for _, c := range list {
		sum, err := s.summarize(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Spend.Value.Equal(out[j].Spend.Value) {
			return out[i].Spend.Value.GreaterThan(out[j].Spend.Value)
		}
		return out[i].Customer.Name < out[j].Customer.Name
	})
	return out, nil
}

// StatementLine is one transaction with the spend and level right after it.
type StatementLine struct {
	Transaction ledger.Transaction
	SpendAfter  ledger.Amount
	LevelAfter  int
}

// Statement returns the customer's log, oldest first, with running spend.
func (s *Service) Statement(ctx context.Context, id ledger.CustomerID) ([]StatementLine, error) {
	if _, err := s.Customer(ctx, id); err != nil {
		return nil, err
	}
	txs, err := s.Ledger.Transactions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	running := ledger.RunningSpend(txs, s.Currency)
	lines := make([]StatementLine, len(txs))
	for i, tx := range txs {
		lines[i] = StatementLine{
			Transaction: tx,
			SpendAfter:  running[i],
			LevelAfter:  s.Table.Evaluate(ledger.ToMoney(running[i])).Level(),
		}
	}
	return lines, nil
}

// =============================================================================
// LEDGER WRITES
// =============================================================================

type SaleInput struct {
	CustomerID     ledger.CustomerID
	Amount         ledger.Amount
	EffectiveAt    time.Time // zero means now
	Invoice        string
	IdempotencyKey string
	CreatedBy      string
	Metadata       map[string]string
}

type RefundInput struct {
	CustomerID     ledger.CustomerID
	Amount         ledger.Amount // positive; stored negated
	EffectiveAt    time.Time
	Invoice        string
	Reason         string
	IdempotencyKey string
	CreatedBy      string
}

type AdjustmentInput struct {
	CustomerID     ledger.CustomerID
	Amount         ledger.Amount // either sign, never zero
	EffectiveAt    time.Time
	Reason         string
	IdempotencyKey string
	CreatedBy      string
}

// RecordSale appends a sale and unlocks every tier it crosses.
func (s *Service) RecordSale(ctx context.Context, in SaleInput) (*Movement, error) {
	amount, err := s.checkAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ledger.AmountError{Input: amount.Value.String()}
	}

	mv, err := s.apply(ctx, ledger.Transaction{
		ID:             ledger.NewTransactionID(),
		CustomerID:     in.CustomerID,
		Type:           ledger.TxSale,
		EffectiveAt:    s.effective(in.EffectiveAt),
		Delta:          amount,
		ReferenceID:    in.Invoice,
		Reason:         "Sale",
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.SaleRecorded()
	return mv, nil
}

// RecordRefund appends a refund. Prizes already unlocked stay unlocked.
func (s *Service) RecordRefund(ctx context.Context, in RefundInput) (*Movement, error) {
	amount, err := s.checkAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &ledger.AmountError{Input: amount.Value.String()}
	}
	reason := in.Reason
	if reason == "" {
		reason = "Refund"
	}

	mv, err := s.apply(ctx, ledger.Transaction{
		ID:             ledger.NewTransactionID(),
		CustomerID:     in.CustomerID,
		Type:           ledger.TxRefund,
		EffectiveAt:    s.effective(in.EffectiveAt),
		Delta:          amount.Neg(),
		ReferenceID:    in.Invoice,
		Reason:         reason,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.RefundRecorded()
	return mv, nil
}

// RecordAdjustment appends a manual correction. A reason is mandatory.
func (s *Service) RecordAdjustment(ctx context.Context, in AdjustmentInput) (*Movement, error) {
	amount, err := s.checkAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, &ledger.AmountError{Input: "0"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, ErrReasonRequired
	}

	mv, err := s.apply(ctx, ledger.Transaction{
		ID:             ledger.NewTransactionID(),
		CustomerID:     in.CustomerID,
		Type:           ledger.TxAdjustment,
		EffectiveAt:    s.effective(in.EffectiveAt),
		Delta:          amount,
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.AdjustmentRecorded()
	return mv, nil
}

// ReverseTransaction undoes one earlier transaction. Each transaction can be
// reversed once; reversals themselves cannot be reversed.
func (s *Service) ReverseTransaction(ctx context.Context, id ledger.TransactionID, reason, by string) (*Movement, error) {
	tx, err := s.Finder.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, id)
	}
	if tx.Type == ledger.TxReversal {
		return nil, ErrNotReversible
	}
	reversed, err := s.Finder.IsReversed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check reversal: %w", err)
	}
	if reversed {
		return nil, ledger.ErrAlreadyReversed
	}

	if reason == "" {
		reason = "Reversed"
	}
	rev := ledger.Reversal(*tx, reason, tx.EffectiveAt)
	rev.CreatedBy = by

	mv, err := s.apply(ctx, rev)
	if err != nil {
		return nil, err
	}
	s.Metrics.ReversalRecorded()
	return mv, nil
}

func (s *Service) checkAmount(a ledger.Amount) (ledger.Amount, error) {
	if a.Currency == "" {
		a.Currency = s.Currency
	}
	if a.Currency != s.Currency {
		return ledger.Amount{}, &ledger.CurrencyError{Want: s.Currency, Got: a.Currency}
	}
	return a, nil
}

func (s *Service) effective(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

// apply appends tx and records the tiers its spend change crosses.
func (s *Service) apply(ctx context.Context, tx ledger.Transaction) (*Movement, error) {
	if _, err := s.Customer(ctx, tx.CustomerID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.Spend(ctx, tx.CustomerID)
	if err != nil {
		return nil, err
	}
	tx.CreatedAt = s.now()
	if err := s.Ledger.Append(ctx, tx); err != nil {
		return nil, err
	}
	after, err := s.Spend(ctx, tx.CustomerID)
	if err != nil {
		return nil, err
	}

	mv := &Movement{
		Transaction: tx,
		Before:      s.evaluate(before),
		After:       s.evaluate(after),
	}

	crossed := s.Table.Crossed(ledger.ToMoney(before), ledger.ToMoney(after))
	if len(crossed) > 0 {
		unlocks := make([]Unlock, len(crossed))
		for i, t := range crossed {
			unlocks[i] = newUnlock(tx.CustomerID, t, tx.ID, tx.CreatedAt)
		}
		saved, err := s.Unlocks.SaveUnlocks(ctx, unlocks)
		if err != nil {
			return nil, fmt.Errorf("save unlocks: %w", err)
		}
		mv.Unlocked = saved
		s.Metrics.TiersUnlocked(len(saved))
	}

	s.log().Info("transaction recorded",
		zap.String("customer_id", string(tx.CustomerID)),
		zap.String("transaction_id", string(tx.ID)),
		zap.String("type", string(tx.Type)),
		zap.String("delta", tx.Delta.Value.String()),
		zap.Int("level_before", mv.Before.Level()),
		zap.Int("level_after", mv.After.Level()),
		zap.Int("unlocked", len(mv.Unlocked)))
	return mv, nil
}

// =============================================================================
// UNLOCKS
// =============================================================================

// SyncUnlocks records an unlock for every reached tier that has none yet and
// returns the new ones. Used by the unlock scanner after imports or restarts.
func (s *Service) SyncUnlocks(ctx context.Context, id ledger.CustomerID) ([]Unlock, error) {
	spend, err := s.Spend(ctx, id)
	if err != nil {
		return nil, err
	}
	reached := s.Table.Reached(ledger.ToMoney(spend))
	if len(reached) == 0 {
		return nil, nil
	}

	at := s.now()
	unlocks := make([]Unlock, len(reached))
	for i, t := range reached {
		unlocks[i] = newUnlock(id, t, "", at)
	}
	saved, err := s.Unlocks.SaveUnlocks(ctx, unlocks)
	if err != nil {
		return nil, fmt.Errorf("save unlocks: %w", err)
	}
	if len(saved) > 0 {
		s.Metrics.TiersUnlocked(len(saved))
		s.log().Info("unlocks synced",
			zap.String("customer_id", string(id)),
			zap.Int("unlocked", len(saved)))
	}
	return saved, nil
}

func (s *Service) Unlocked(ctx context.Context, id ledger.CustomerID) ([]Unlock, error) {
	if _, err := s.Customer(ctx, id); err != nil {
		return nil, err
	}
	return s.Unlocks.ListUnlocks(ctx, id)
}

// DeliverUnlock marks a pending prize as handed over.
func (s *Service) DeliverUnlock(ctx context.Context, id string) (*Unlock, error) {
	if err := s.Unlocks.MarkDelivered(ctx, id, s.now()); err != nil {
		return nil, err
	}
	u, err := s.Unlocks.GetUnlock(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUnlockNotFound
	}
	s.log().Info("prize delivered",
		zap.String("unlock_id", u.ID),
		zap.String("customer_id", string(u.CustomerID)),
		zap.Int("level", u.Level))
	return u, nil
}
