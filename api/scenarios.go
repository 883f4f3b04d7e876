/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with customers and sales that put the ladder
	through its edge cases, so the dashboard can be demoed without a POS.

AVAILABLE SCENARIOS:

	boutique:   retail customers at zero, just below tier 1, exactly on a
	            threshold, mid-range, and past the last tier
	wholesale:  a few large accounts, one with a reversed mis-keyed sale
	empty:      nothing, for a clean slate

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create customers through the service
 3. Record sales/refunds through the service, so unlocks are recorded
    exactly as in production

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "boutique"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description
 2. Add a loader to 'scenarioLoaders'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: routes
  - customers/service.go: the operations used here
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "boutique",
		Name:        "Boutique",
		Description: "Retail customers spread across the ladder, including every edge case",
		Category:    "retail",
	},
	{
		ID:          "wholesale",
		Name:        "Wholesale Accounts",
		Description: "Few large accounts high on the ladder, with a reversed sale",
		Category:    "wholesale",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No customers",
		Category:    "other",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"boutique":  (*Handler).loadBoutiqueScenario,
	"wholesale": (*Handler).loadWholesaleScenario,
	"empty":     func(*Handler, context.Context) error { return nil },
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.serverError(w, r, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.serverError(w, r, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.setScenario("")

	if err := load(h, ctx); err != nil {
		return err
	}
	h.setScenario(id)
	h.log().Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) scenario() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// LOADERS
// =============================================================================

// demoSale is one ledger write of a scenario. Negative amounts are refunds.
type demoSale struct {
	day     time.Time
	amount  int64
	invoice string
}

type demoCustomer struct {
	id      ledger.CustomerID
	name    string
	email   string
	segment customers.Segment
	sales   []demoSale
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 15, 0, 0, 0, time.UTC)
}

func (h *Handler) loadBoutiqueScenario(ctx context.Context) error {
	return h.loadCustomers(ctx, []demoCustomer{
		{
			id: "cus-ana", name: "Ana Restrepo", email: "ana@example.com",
		},
		{
			id: "cus-bruno", name: "Bruno Díaz", email: "bruno@example.com",
			sales: []demoSale{
				{day(2025, 1, 10), 600_000, "F-1001"},
				{day(2025, 2, 14), 399_999, "F-1044"},
			},
		},
		{
			id: "cus-carla", name: "Carla Mejía", email: "carla@example.com",
			sales: []demoSale{
				{day(2025, 1, 5), 2_000_000, "F-0990"},
				{day(2025, 2, 1), 1_500_000, "F-1030"},
				{day(2025, 2, 3), -500_000, "F-1030"},
			},
		},
		{
			id: "cus-diego", name: "Diego Salazar", email: "diego@example.com",
			sales: []demoSale{
				{day(2025, 1, 20), 4_200_000, "F-1012"},
				{day(2025, 3, 2), 3_000_000, "F-1101"},
			},
		},
		{
			id: "cus-elena", name: "Elena Vargas", email: "elena@example.com",
			sales: []demoSale{
				{day(2024, 11, 30), 1_800_000_000, "F-0801"},
				{day(2025, 2, 28), 700_000_000, "F-1088"},
			},
		},
	})
}

func (h *Handler) loadWholesaleScenario(ctx context.Context) error {
	err := h.loadCustomers(ctx, []demoCustomer{
		{
			id: "cus-joyeria-sol", name: "Joyería El Sol", segment: customers.SegmentWholesale,
			sales: []demoSale{
				{day(2025, 1, 8), 30_000_000, "W-201"},
				{day(2025, 2, 8), 18_000_000, "W-245"},
			},
		},
		{
			id: "cus-oro-norte", name: "Oro del Norte", segment: customers.SegmentWholesale,
			sales: []demoSale{
				{day(2025, 1, 15), 120_000_000, "W-210"},
			},
		},
		{
			id: "cus-gemas-andes", name: "Gemas de los Andes", segment: customers.SegmentWholesale,
			sales: []demoSale{
				{day(2024, 12, 1), 350_000_000, "W-150"},
				{day(2025, 2, 20), 250_000_000, "W-260"},
			},
		},
	})
	if err != nil {
		return err
	}

	// A sale keyed twice, then reversed.
	mv, err := h.Service.RecordSale(ctx, customers.SaleInput{
		CustomerID:  "cus-oro-norte",
		Amount:      h.amount(120_000_000),
		EffectiveAt: day(2025, 1, 15),
		Invoice:     "W-210",
		CreatedBy:   "demo",
	})
	if err != nil {
		return err
	}
	_, err = h.Service.ReverseTransaction(ctx, mv.Transaction.ID, "Invoice W-210 keyed twice", "demo")
	return err
}

func (h *Handler) loadCustomers(ctx context.Context, list []demoCustomer) error {
	for _, dc := range list {
		if _, err := h.Service.CreateCustomer(ctx, customers.NewCustomer{
			ID:      dc.id,
			Name:    dc.name,
			Email:   dc.email,
			Segment: dc.segment,
		}); err != nil {
			return fmt.Errorf("create %s: %w", dc.id, err)
		}

		for _, s := range dc.sales {
			var err error
			if s.amount < 0 {
				_, err = h.Service.RecordRefund(ctx, customers.RefundInput{
					CustomerID:  dc.id,
					Amount:      h.amount(-s.amount),
					EffectiveAt: s.day,
					Invoice:     s.invoice,
					Reason:      "Returned item",
					CreatedBy:   "demo",
				})
			} else {
				_, err = h.Service.RecordSale(ctx, customers.SaleInput{
					CustomerID:  dc.id,
					Amount:      h.amount(s.amount),
					EffectiveAt: s.day,
					Invoice:     s.invoice,
					CreatedBy:   "demo",
				})
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", dc.id, s.invoice, err)
			}
		}
	}
	return nil
}

func (h *Handler) amount(minor int64) ledger.Amount {
	return ledger.NewAmount(minor, h.Service.Currency)
}
