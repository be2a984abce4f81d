/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates showings,
	reservations, and supporting records that demonstrate specific
	features.

AVAILABLE SCENARIOS:

	opening-night:   Showing near capacity with holds and an expired option
	payment-cycle:   Confirmed bookings with overdue and missing due dates
	repeat-offender: Customer crossing the no-show block threshold
	voucher-program: Vouchers in every lifecycle state
	drifted-ledger:  Injected capacity drift and an orphan for the auditor

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create showings
 3. Drive reservations through the state machine so logs look real
 4. Optionally corrupt data directly for the audit demo

USAGE VIA API:

	POST /api/scenarios/load
	{"id": "opening-night"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - engine/audit.go: detects the drift injected by drifted-ledger
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/engine"
)

// Resetter is implemented by stores that can wipe all data (dev/demo).
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "opening-night",
		Name:        "Opening Night",
		Description: "Nearly sold-out showing with confirmed seats, option holds, and an expired option",
	},
	{
		ID:          "payment-cycle",
		Name:        "Payment Cycle",
		Description: "Confirmed bookings with overdue, upcoming, and missing payment due dates",
	},
	{
		ID:          "repeat-offender",
		Name:        "Repeat Offender",
		Description: "Customer whose no-show history crosses the block threshold",
	},
	{
		ID:          "voucher-program",
		Name:        "Voucher Program",
		Description: "Vouchers in every state: active, partially used, expired, awaiting payment",
	},
	{
		ID:          "drifted-ledger",
		Name:        "Drifted Ledger",
		Description: "Capacity counters out of sync and an orphaned reservation for the auditor to find",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ID {
	case "opening-night":
		err = h.loadOpeningNightScenario(ctx)
	case "payment-cycle":
		err = h.loadPaymentCycleScenario(ctx)
	case "repeat-offender":
		err = h.loadRepeatOffenderScenario(ctx)
	case "voucher-program":
		err = h.loadVoucherProgramScenario(ctx)
	case "drifted-ledger":
		err = h.loadDriftedLedgerScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) saveShowing(ctx context.Context, id, name string, startsAt time.Time, capacity int) error {
	return h.Store.SaveShowing(ctx, engine.Showing{
		ID:        engine.ShowingID(id),
		Name:      name,
		StartsAt:  startsAt,
		Capacity:  capacity,
		Remaining: capacity,
		CreatedAt: time.Now().UTC(),
	})
}

func (h *Handler) loadOpeningNightScenario(ctx context.Context) error {
	tonight := time.Now().UTC().Truncate(time.Hour).Add(6 * time.Hour)
	if err := h.saveShowing(ctx, "show-opening", "Opening Night: The Tempest", tonight, 20); err != nil {
		return err
	}

	// Confirmed parties taking most of the room.
	confirmed := []struct {
		email string
		party int
	}{
		{"harriet@example.com", 4},
		{"omar@example.com", 2},
		{"lin@example.com", 6},
	}
	for _, c := range confirmed {
		res, err := h.SM.Create(ctx, engine.CreateParams{
			ShowingID: "show-opening", Email: c.email, PartySize: c.party,
			InitialStatus: engine.StatusPending, Actor: "box-office",
		})
		if err != nil {
			return err
		}
		if _, err := h.SM.Transition(ctx, res.ID, engine.StatusConfirmed, "box-office",
			engine.TransitionOptions{}); err != nil {
			return err
		}
	}

	// A live option hold expiring soon.
	soon := time.Now().UTC().Add(30 * time.Minute)
	if _, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-opening", Email: "petra@example.com", PartySize: 3,
		InitialStatus: engine.StatusOption, OptionExpiresAt: &soon, Actor: "phone-desk",
	}); err != nil {
		return err
	}

	// An option hold already past its expiry, waiting for the sweep.
	stale := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-opening", Email: "gregor@example.com", PartySize: 2,
		InitialStatus: engine.StatusOption, OptionExpiresAt: &stale, Actor: "phone-desk",
	}); err != nil {
		return err
	}

	// A fresh pending request still in triage.
	_, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-opening", Email: "yuki@example.com", PartySize: 2,
		InitialStatus: engine.StatusPending, Actor: "web",
	})
	return err
}

func (h *Handler) loadPaymentCycleScenario(ctx context.Context) error {
	nextMonth := time.Now().UTC().AddDate(0, 1, 0)
	if err := h.saveShowing(ctx, "show-gala", "Winter Gala", nextMonth, 50); err != nil {
		return err
	}

	confirm := func(email string, party int) (*engine.Reservation, error) {
		res, err := h.SM.Create(ctx, engine.CreateParams{
			ShowingID: "show-gala", Email: email, PartySize: party,
			InitialStatus: engine.StatusPending, Actor: "box-office",
		})
		if err != nil {
			return nil, err
		}
		return h.SM.Transition(ctx, res.ID, engine.StatusConfirmed, "box-office", engine.TransitionOptions{})
	}

	// On-track payer: due date in the future, untouched.
	if _, err := confirm("sofia@example.com", 2); err != nil {
		return err
	}

	// Late payer: due date pushed into the past, waiting for the sweep.
	late, err := confirm("bruno@example.com", 4)
	if err != nil {
		return err
	}
	overdue := time.Now().UTC().Add(-48 * time.Hour)
	if err := h.Store.UpdateReservation(ctx, late.ID, func(r *engine.Reservation) error {
		r.PaymentDueAt = &overdue
		return nil
	}); err != nil {
		return err
	}

	// Migrated booking with no due date at all, waiting for backfill.
	legacy, err := confirm("agnes@example.com", 3)
	if err != nil {
		return err
	}
	if err := h.Store.UpdateReservation(ctx, legacy.ID, func(r *engine.Reservation) error {
		r.PaymentDueAt = nil
		return nil
	}); err != nil {
		return err
	}

	// Settled booking.
	paid, err := confirm("marcus@example.com", 2)
	if err != nil {
		return err
	}
	_, err = h.SM.SetPaymentStatus(ctx, paid.ID, engine.PaymentPaid, "box-office")
	return err
}

func (h *Handler) loadRepeatOffenderScenario(ctx context.Context) error {
	lastWeek := time.Now().UTC().AddDate(0, 0, -7)
	nextWeek := time.Now().UTC().AddDate(0, 0, 7)
	if err := h.saveShowing(ctx, "show-past", "Jazz Quartet (last week)", lastWeek, 30); err != nil {
		return err
	}
	if err := h.saveShowing(ctx, "show-future", "Jazz Quartet (next week)", nextWeek, 30); err != nil {
		return err
	}

	offender := "nd@example.com"

	// First missed booking: confirmed, never showed.
	first, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-past", Email: offender, PartySize: 2,
		InitialStatus: engine.StatusPending, Actor: "box-office",
	})
	if err != nil {
		return err
	}
	if _, err := h.SM.Transition(ctx, first.ID, engine.StatusConfirmed, "box-office",
		engine.TransitionOptions{}); err != nil {
		return err
	}
	if _, _, err := h.Trust.MarkNoShow(ctx, first.ID, "usher", "seats empty at curtain"); err != nil {
		return err
	}

	// Second missed booking crosses the threshold and blocks the customer.
	second, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-past", Email: offender, PartySize: 2,
		InitialStatus: engine.StatusPending, Actor: "box-office",
	})
	if err != nil {
		return err
	}
	if _, err := h.SM.Transition(ctx, second.ID, engine.StatusConfirmed, "box-office",
		engine.TransitionOptions{}); err != nil {
		return err
	}
	if _, _, err := h.Trust.MarkNoShow(ctx, second.ID, "usher", "seats empty at curtain"); err != nil {
		return err
	}

	// A reliable customer on the future showing for contrast.
	regular, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-future", Email: "ines@example.com", PartySize: 2,
		InitialStatus: engine.StatusPending, Actor: "web",
	})
	if err != nil {
		return err
	}
	_, err = h.SM.Transition(ctx, regular.ID, engine.StatusConfirmed, "box-office",
		engine.TransitionOptions{})
	return err
}

func (h *Handler) loadVoucherProgramScenario(ctx context.Context) error {
	nextWeek := time.Now().UTC().AddDate(0, 0, 7)
	if err := h.saveShowing(ctx, "show-matinee", "Sunday Matinee", nextWeek, 40); err != nil {
		return err
	}

	// Active voucher, untouched.
	if _, err := h.Vouchers.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(50), ValidDays: 365,
	}, "gift@example.com"); err != nil {
		return err
	}

	// Partially used voucher, redeemed against a confirmed booking.
	partial, err := h.Vouchers.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(100), ValidDays: 365,
	}, "frequent@example.com")
	if err != nil {
		return err
	}
	res, err := h.SM.Create(ctx, engine.CreateParams{
		ShowingID: "show-matinee", Email: "frequent@example.com", PartySize: 2,
		InitialStatus: engine.StatusPending, Actor: "web",
	})
	if err != nil {
		return err
	}
	if _, err := h.SM.Transition(ctx, res.ID, engine.StatusConfirmed, "box-office",
		engine.TransitionOptions{}); err != nil {
		return err
	}
	if _, _, err := h.Vouchers.Apply(ctx, partial.Code, decimal.NewFromInt(35), res.ID); err != nil {
		return err
	}

	// Voucher sold online, payment not yet confirmed.
	if _, err := h.Vouchers.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(75), ValidDays: 365, PendingPayment: true,
	}, "webshop@example.com"); err != nil {
		return err
	}

	// Expired voucher: issued, then expiry pulled into the past.
	expired, err := h.Vouchers.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(25), ValidDays: 30,
	}, "latecomer@example.com")
	if err != nil {
		return err
	}
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	v, err := h.Store.GetVoucher(ctx, expired.Code)
	if err != nil {
		return err
	}
	v.ExpiresAt = &yesterday
	return h.Store.SaveVoucher(ctx, *v)
}

func (h *Handler) loadDriftedLedgerScenario(ctx context.Context) error {
	nextWeek := time.Now().UTC().AddDate(0, 0, 7)
	if err := h.saveShowing(ctx, "show-drift", "Chamber Recital", nextWeek, 25); err != nil {
		return err
	}
	if err := h.saveShowing(ctx, "show-clean", "String Quartet", nextWeek, 25); err != nil {
		return err
	}

	// Healthy bookings on both showings.
	for _, target := range []string{"show-drift", "show-clean"} {
		res, err := h.SM.Create(ctx, engine.CreateParams{
			ShowingID: engine.ShowingID(target), Email: "steady@example.com", PartySize: 3,
			InitialStatus: engine.StatusPending, Actor: "web",
		})
		if err != nil {
			return err
		}
		if _, err := h.SM.Transition(ctx, res.ID, engine.StatusConfirmed, "box-office",
			engine.TransitionOptions{}); err != nil {
			return err
		}
	}

	// Drift: nudge the stored counter away from the reservation-derived
	// value, as a crashed deploy once did.
	if err := h.Store.UpdateShowing(ctx, "show-drift", func(sh *engine.Showing) error {
		sh.Remaining -= 4
		return nil
	}); err != nil {
		return err
	}

	// Orphan: a reservation pointing at a showing that no longer exists.
	now := time.Now().UTC()
	return h.Store.CreateReservation(ctx, engine.Reservation{
		ID:            "res-orphan-demo",
		ShowingID:     "show-deleted",
		Email:         "ghost@example.com",
		PartySize:     2,
		Status:        engine.StatusConfirmed,
		PaymentStatus: engine.PaymentPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
