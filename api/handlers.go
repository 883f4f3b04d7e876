/*
handlers.go - HTTP API handlers for the incentive engine

PURPOSE:
  Exposes the tier ladder, customer standings and the spend ledger to the
  dashboard. Handlers parse and validate input, delegate to
  customers.Service, and serialize DTOs.

ENDPOINTS:
  Tiers:
    GET    /api/tiers                        Tier table
    GET    /api/tiers/evaluate?spend=N       Standing for an arbitrary spend

  Customers:
    GET    /api/customers                    Summaries, highest spend first
    POST   /api/customers                    Create customer
    GET    /api/customers/{id}               Customer + standing
    GET    /api/customers/{id}/progress      Standing + legacy progress
    GET    /api/customers/{id}/transactions  Ledger with running spend
    GET    /api/customers/{id}/unlocks       Prize unlocks

  Ledger:
    POST   /api/customers/{id}/sales         Record sale
    POST   /api/customers/{id}/refunds       Record refund
    POST   /api/customers/{id}/adjustments   Manual correction
    GET    /api/transactions?limit=N         Recent activity, all customers
    DELETE /api/transactions/{id}            Reverse a transaction

  Unlocks:
    GET    /api/unlocks/pending              Prizes not yet handed over
    POST   /api/unlocks/{id}/deliver         Mark prize delivered
    GET    /api/unlocks/runs                 Scanner history
    POST   /api/unlocks/scan                 Run scanner now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call customers.Service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Customer, transaction or unlock not found
  - 409: Conflict (idempotency key reused, already reversed/delivered)
  - 500: Internal errors (logged with the request id)

SECURITY NOTE:
  No authentication or authorization. Deploy behind the store's VPN.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/ledger"
	"github.com/warp/incentive-engine/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *customers.Service
	Scanner *UnlockScanner
	Metrics *metrics.Metrics
	Log     *zap.Logger

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires a handler and its unlock scanner onto one store.
func NewHandler(store *sqlite.Store, svc *customers.Service, log *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		Store:   store,
		Service: svc,
		Scanner: NewUnlockScanner(svc, store, log, m),
		Metrics: m,
		Log:     log,
	}
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// =============================================================================
// TIER ENDPOINTS
// =============================================================================

// GetTiers returns the ladder.
// GET /api/tiers
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	doc := factory.ToJSON(h.Service.Table, string(h.Service.Currency))
	resp := TiersResponse{Currency: doc.Currency, Tiers: make([]TierDTO, len(doc.Tiers))}
	for i, t := range doc.Tiers {
		resp.Tiers[i] = TierDTO{Level: t.Level, Threshold: t.Threshold, Prize: t.Prize}
	}
	writeJSON(w, http.StatusOK, resp)
}

// EvaluateSpend places an arbitrary spend on the ladder.
// GET /api/tiers/evaluate?spend=N
func (h *Handler) EvaluateSpend(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("spend")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "spend is required", nil)
		return
	}
	amount, err := ledger.ParseAmount(raw, h.Service.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid spend", err)
		return
	}

	resp := Evaluate(h.Service.Table, ledger.ToMoney(amount))
	h.Metrics.StandingEvaluated(resp.Standing.Kind.String())
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

// ListCustomers returns every customer with spend and standing.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Summaries(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerSummaryDTO, len(list))
	for i, s := range list {
		dtos[i] = toSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer creates a customer.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Service.CreateCustomer(r.Context(), customers.NewCustomer{
		ID:      ledger.CustomerID(req.ID),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Segment: customers.Segment(strings.ToLower(req.Segment)),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*c))
}

// GetCustomer returns a customer with spend and standing.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context(), customerID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(*sum))
}

// GetProgress returns the progress-bar payload for a customer.
// GET /api/customers/{id}/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context(), customerID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get progress", err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluationResponse{
		Spend:    int64(sum.Standing.Spend),
		Standing: toStandingDTO(sum.Standing),
		Progress: toProgressDTO(sum.Progress),
	})
}

// GetTransactions returns the customer's ledger, newest first.
// GET /api/customers/{id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lines, err := h.Service.Statement(ctx, customerID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get transactions", err)
		return
	}

	reversed := make(map[string]bool)
	for _, l := range lines {
		if l.Transaction.Type == ledger.TxReversal {
			reversed[l.Transaction.ReferenceID] = true
		}
	}

	dtos := make([]TransactionDTO, len(lines))
	for i, l := range lines {
		dto := toTransactionDTO(l.Transaction)
		dto.SpendAfter = l.SpendAfter.Value.String()
		level := l.LevelAfter
		dto.LevelAfter = &level
		dto.Reversed = reversed[string(l.Transaction.ID)]
		dtos[len(lines)-1-i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUnlocks returns the customer's prizes.
// GET /api/customers/{id}/unlocks
func (h *Handler) ListUnlocks(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Unlocked(r.Context(), customerID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list unlocks", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnlockDTOs(list))
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// RecordSale appends a sale and returns the tiers it unlocked.
// POST /api/customers/{id}/sales
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, at, ok := h.parseMovement(w, req.Amount, req.EffectiveAt)
	if !ok {
		return
	}

	mv, err := h.Service.RecordSale(r.Context(), customers.SaleInput{
		CustomerID:     customerID(r),
		Amount:         amount,
		EffectiveAt:    at,
		Invoice:        req.Invoice,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(mv))
}

// RecordRefund appends a refund. Amount is positive.
// POST /api/customers/{id}/refunds
func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, at, ok := h.parseMovement(w, req.Amount, req.EffectiveAt)
	if !ok {
		return
	}

	mv, err := h.Service.RecordRefund(r.Context(), customers.RefundInput{
		CustomerID:     customerID(r),
		Amount:         amount,
		EffectiveAt:    at,
		Invoice:        req.Invoice,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record refund", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(mv))
}

// RecordAdjustment appends a manual correction.
// POST /api/customers/{id}/adjustments
func (h *Handler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, at, ok := h.parseMovement(w, req.Amount, req.EffectiveAt)
	if !ok {
		return
	}

	mv, err := h.Service.RecordAdjustment(r.Context(), customers.AdjustmentInput{
		CustomerID:     customerID(r),
		Amount:         amount,
		EffectiveAt:    at,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(mv))
}

// ListRecentTransactions returns the newest ledger entries across all
// customers for the dashboard's activity feed.
// GET /api/transactions?limit=N (default 20, at most 200)
func (h *Handler) ListRecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200", err)
			return
		}
		limit = n
	}

	txs, err := h.Store.RecentTransactions(r.Context(), limit)
	if err != nil {
		h.serverError(w, r, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReverseTransaction appends a reversal of a transaction.
// DELETE /api/transactions/{id}?reason=...
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	txID := ledger.TransactionID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	mv, err := h.Service.ReverseTransaction(r.Context(), txID, q.Get("reason"), q.Get("by"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to reverse transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(mv))
}

// =============================================================================
// UNLOCK ENDPOINTS
// =============================================================================

// ListPendingUnlocks returns prizes waiting to be handed over.
// GET /api/unlocks/pending
func (h *Handler) ListPendingUnlocks(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.PendingUnlocks(r.Context())
	if err != nil {
		h.serverError(w, r, "Failed to list pending unlocks", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnlockDTOs(list))
}

// DeliverUnlock marks a prize as delivered.
// POST /api/unlocks/{id}/deliver
func (h *Handler) DeliverUnlock(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.DeliverUnlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to deliver prize", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnlockDTO(*u))
}

// ListScanRuns returns scanner history, newest first.
// GET /api/unlocks/runs?limit=N
func (h *Handler) ListScanRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListScanRuns(r.Context(), limit)
	if err != nil {
		h.serverError(w, r, "Failed to list scan runs", err)
		return
	}
	dtos := make([]ScanRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toScanRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerScan runs one scanner pass synchronously.
// POST /api/unlocks/scan
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.Scanner.RunOnce(r.Context())
	if err != nil {
		h.serverError(w, r, "Unlock scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toScanRunDTO(*run))
}

// Healthz reports whether the database answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func customerID(r *http.Request) ledger.CustomerID {
	return ledger.CustomerID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseMovement reads the amount and optional effective date of a ledger
// write, writing a 400 on failure.
func (h *Handler) parseMovement(w http.ResponseWriter, rawAmount, rawDate string) (ledger.Amount, time.Time, bool) {
	amount, err := ledger.ParseAmount(rawAmount, h.Service.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return ledger.Amount{}, time.Time{}, false
	}
	at, err := parseDate(rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_at", err)
		return ledger.Amount{}, time.Time{}, false
	}
	return amount, at, true
}

// parseDate accepts RFC3339 or YYYY-MM-DD. Empty means zero (now).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case customers.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case customers.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case customers.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.serverError(w, r, message, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.log().Error(message,
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(r.Context())))
	writeError(w, http.StatusInternalServerError, message, err)
}
