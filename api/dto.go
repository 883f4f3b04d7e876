/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures the dashboard sees. Domain types never go on
  the wire directly, so internal fields can change without breaking clients.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings in minor units ("1250000"), never floats.
  Percentages are floats in [0, 100].

TYPES:
  Tiers:        TierDTO, TiersResponse, EvaluationResponse
  Standing:     StandingDTO, ProgressDTO
  Customers:    CustomerDTO, CustomerSummaryDTO, CreateCustomerRequest
  Ledger:       SaleRequest, RefundRequest, AdjustmentRequest,
                TransactionDTO, MovementDTO
  Unlocks:      UnlockDTO, ScanRunDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"net/http"
	"time"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/ledger"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// TIERS AND STANDING
// =============================================================================

type TierDTO struct {
	Level     int    `json:"level"`
	Threshold int64  `json:"threshold"`
	Prize     string `json:"prize"`
}

type TiersResponse struct {
	Currency string    `json:"currency"`
	Tiers    []TierDTO `json:"tiers"`
}

// StandingDTO is the explicit standing: kind tag plus current/next tier.
type StandingDTO struct {
	Kind       incentive.Kind `json:"kind"`
	Spend      int64          `json:"spend"`
	Level      int            `json:"level"`
	Current    *TierDTO       `json:"current,omitempty"`
	Next       *TierDTO       `json:"next,omitempty"`
	Remaining  int64          `json:"remaining"`
	Percentage float64        `json:"percentage"`
}

// ProgressDTO is the legacy next/previous/percentage composite the progress
// bar was built on.
type ProgressDTO struct {
	Next       TierDTO `json:"next"`
	Previous   TierDTO `json:"previous"`
	Percentage float64 `json:"percentage"`
}

type EvaluationResponse struct {
	Spend    int64       `json:"spend"`
	Standing StandingDTO `json:"standing"`
	Progress ProgressDTO `json:"progress"`
}

// Evaluate places spend on table in both the explicit and legacy forms.
func Evaluate(table incentive.Table, spend incentive.Money) EvaluationResponse {
	standing := table.Evaluate(spend)
	return EvaluationResponse{
		Spend:    int64(standing.Spend),
		Standing: toStandingDTO(standing),
		Progress: toProgressDTO(table.Progress(spend)),
	}
}

func toTierDTO(t incentive.Tier) TierDTO {
	return TierDTO{Level: t.Level, Threshold: int64(t.Threshold), Prize: t.Prize}
}

func toTierPtr(t *incentive.Tier) *TierDTO {
	if t == nil {
		return nil
	}
	dto := toTierDTO(*t)
	return &dto
}

func toStandingDTO(s incentive.Standing) StandingDTO {
	return StandingDTO{
		Kind:       s.Kind,
		Spend:      int64(s.Spend),
		Level:      s.Level(),
		Current:    toTierPtr(s.Current),
		Next:       toTierPtr(s.Next),
		Remaining:  int64(s.Remaining()),
		Percentage: s.Percentage,
	}
}

func toProgressDTO(p incentive.Progress) ProgressDTO {
	return ProgressDTO{
		Next:       toTierDTO(p.Next),
		Previous:   toTierDTO(p.Previous),
		Percentage: p.Percentage,
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Segment   string `json:"segment"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateCustomerRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Segment string `json:"segment"`
}

// CustomerSummaryDTO is one row of the customer list.
type CustomerSummaryDTO struct {
	CustomerDTO
	Spend    string      `json:"spend"`
	Currency string      `json:"currency"`
	Standing StandingDTO `json:"standing"`
	Progress ProgressDTO `json:"progress"`
}

func toCustomerDTO(c customers.Customer) CustomerDTO {
	dto := CustomerDTO{
		ID:      string(c.ID),
		Name:    c.Name,
		Email:   c.Email,
		Phone:   c.Phone,
		Segment: string(c.Segment),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toSummaryDTO(s customers.Summary) CustomerSummaryDTO {
	return CustomerSummaryDTO{
		CustomerDTO: toCustomerDTO(s.Customer),
		Spend:       s.Spend.Value.String(),
		Currency:    string(s.Spend.Currency),
		Standing:    toStandingDTO(s.Standing),
		Progress:    toProgressDTO(s.Progress),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// SaleRequest records a purchase. Amount is a decimal string.
type SaleRequest struct {
	Amount         string            `json:"amount"`
	Invoice        string            `json:"invoice"`
	EffectiveAt    string            `json:"effective_at"` // RFC3339 or YYYY-MM-DD, empty = now
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedBy      string            `json:"created_by"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type RefundRequest struct {
	Amount         string `json:"amount"`
	Invoice        string `json:"invoice"`
	Reason         string `json:"reason"`
	EffectiveAt    string `json:"effective_at"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedBy      string `json:"created_by"`
}

// AdjustmentRequest may carry a negative amount.
type AdjustmentRequest struct {
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	EffectiveAt    string `json:"effective_at"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedBy      string `json:"created_by"`
}

type TransactionDTO struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	Type        string            `json:"type"`
	EffectiveAt string            `json:"effective_at"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SpendAfter  string            `json:"spend_after,omitempty"`
	LevelAfter  *int              `json:"level_after,omitempty"`
	Reversed    bool              `json:"reversed,omitempty"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		CustomerID:  string(tx.CustomerID),
		Type:        string(tx.Type),
		EffectiveAt: tx.EffectiveAt.Format(time.RFC3339),
		Amount:      tx.Delta.Value.String(),
		Currency:    string(tx.Delta.Currency),
		ReferenceID: tx.ReferenceID,
		Reason:      tx.Reason,
		CreatedBy:   tx.CreatedBy,
		Metadata:    tx.Metadata,
	}
}

// MovementDTO is the response to every ledger write.
type MovementDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Before      StandingDTO    `json:"before"`
	After       StandingDTO    `json:"after"`
	Unlocked    []UnlockDTO    `json:"unlocked"`
}

func toMovementDTO(mv *customers.Movement) MovementDTO {
	return MovementDTO{
		Transaction: toTransactionDTO(mv.Transaction),
		Before:      toStandingDTO(mv.Before),
		After:       toStandingDTO(mv.After),
		Unlocked:    toUnlockDTOs(mv.Unlocked),
	}
}

// =============================================================================
// UNLOCKS
// =============================================================================

type UnlockDTO struct {
	ID            string  `json:"id"`
	CustomerID    string  `json:"customer_id"`
	Level         int     `json:"level"`
	Threshold     int64   `json:"threshold"`
	Prize         string  `json:"prize"`
	TransactionID string  `json:"transaction_id,omitempty"`
	UnlockedAt    string  `json:"unlocked_at"`
	Status        string  `json:"status"`
	DeliveredAt   *string `json:"delivered_at,omitempty"`
}

func toUnlockDTO(u customers.Unlock) UnlockDTO {
	dto := UnlockDTO{
		ID:            u.ID,
		CustomerID:    string(u.CustomerID),
		Level:         u.Level,
		Threshold:     int64(u.Threshold),
		Prize:         u.Prize,
		TransactionID: string(u.TransactionID),
		UnlockedAt:    u.UnlockedAt.Format(time.RFC3339),
		Status:        string(u.Status),
	}
	if u.DeliveredAt != nil {
		dto.DeliveredAt = strPtr(u.DeliveredAt.Format(time.RFC3339))
	}
	return dto
}

func toUnlockDTOs(list []customers.Unlock) []UnlockDTO {
	out := make([]UnlockDTO, len(list))
	for i, u := range list {
		out[i] = toUnlockDTO(u)
	}
	return out
}

type ScanRunDTO struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Customers   int     `json:"customers"`
	Unlocked    int     `json:"unlocked"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func toScanRunDTO(r sqlite.ScanRun) ScanRunDTO {
	dto := ScanRunDTO{
		ID:        r.ID,
		Status:    r.Status,
		Customers: r.Customers,
		Unlocked:  r.Unlocked,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = strPtr(r.CompletedAt.Format(time.RFC3339))
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Error codes, one per status class the API returns.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	}
	return CodeInternal
}

func strPtr(s string) *string {
	return &s
}
