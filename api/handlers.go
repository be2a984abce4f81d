/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the reservation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Showings:
    GET    /api/showings                      List showings
    POST   /api/showings                      Create showing
    GET    /api/showings/{id}                 Get showing
    GET    /api/showings/{id}/availability    Remaining capacity (cached)
    GET    /api/showings/{id}/reservations    Reservations for a showing
    PUT    /api/showings/{id}/override        Apply capacity override
    POST   /api/showings/{id}/override/toggle Enable/disable override
    DELETE /api/showings/{id}/override        Clear override

  Reservations:
    POST   /api/reservations                       Create (pending or option)
    GET    /api/reservations                       List (email/status filters)
    GET    /api/reservations/{id}                  Get with full log
    POST   /api/reservations/{id}/transition       Status transition
    POST   /api/reservations/{id}/payment          Payment sub-state
    POST   /api/reservations/{id}/no-show          Mark no-show (trust follows)
    POST   /api/reservations/{id}/no-show/reverse  Undo no-show

  Customers:
    GET    /api/customers/{email}/block    Active block record (404 if none)
    POST   /api/customers/{email}/unblock  Clear block
    GET    /api/customers/{email}/reservations

  Vouchers:
    POST   /api/vouchers                  Issue
    GET    /api/vouchers                  List
    GET    /api/vouchers/{code}           Get with usage
    GET    /api/vouchers/{code}/validate  Pure validation read
    POST   /api/vouchers/{code}/apply     Redeem against a reservation
    POST   /api/vouchers/{code}/activate  Clear pending-payment flag

  Sweeps (also run on a schedule, see scheduler.go):
    POST   /api/sweeps/options    Cancel expired options
    POST   /api/sweeps/payments   Mark overdue payments
    POST   /api/sweeps/backfill   Backfill missing payment due dates

  Audit:
    GET    /api/audit          Run a consistency scan
    POST   /api/audit/fix      Auto-fix one issue
    POST   /api/audit/fix-all  Auto-fix everything fixable

  Scenarios:
    GET    /api/scenarios       List demo scenarios
    POST   /api/scenarios/load  Load a demo scenario
    POST   /api/scenarios/reset Reset all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unusable vouchers
  - 403: Blocked customer
  - 404: Resource not found
  - 409: Conflict (invalid transition, capacity, concurrent write)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/booking-engine/cache"
	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    engine.TxStore
	SM       *engine.StateMachine
	Trust    *engine.TrustEngine
	Sweeper  *engine.Sweeper
	Vouchers *engine.VoucherLedger
	Auditor  *engine.Auditor
	Capacity *engine.CapacityLedger

	// Cache is the optional Redis availability read model.
	Cache *cache.Availability

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the engine components over a store. The trust engine
// doubles as the state machine's booking gate.
func NewHandler(store engine.TxStore, events engine.Publisher) *Handler {
	sm := &engine.StateMachine{Store: store, Events: events}
	trust := &engine.TrustEngine{Store: store, SM: sm, Events: events}
	sm.Gate = trust

	return &Handler{
		Store:    store,
		SM:       sm,
		Trust:    trust,
		Sweeper:  &engine.Sweeper{Store: store, SM: sm},
		Vouchers: &engine.VoucherLedger{Store: store, Events: events},
		Auditor:  &engine.Auditor{Store: store, Events: events},
		Capacity: engine.NewCapacityLedger(store, events),
	}
}

// =============================================================================
// SHOWING HANDLERS
// =============================================================================

// ListShowings returns all showings.
func (h *Handler) ListShowings(w http.ResponseWriter, r *http.Request) {
	showings, err := h.Store.ListShowings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list showings", err)
		return
	}
	dtos := make([]ShowingDTO, len(showings))
	for i, sh := range showings {
		dtos[i] = toShowingDTO(sh)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShowing creates a new showing with remaining = capacity.
func (h *Handler) CreateShowing(w http.ResponseWriter, r *http.Request) {
	var req CreateShowingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Capacity < 0 {
		writeError(w, http.StatusBadRequest, "Capacity must not be negative", nil)
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid starts_at (use RFC3339)", err)
		return
	}

	id := req.ID
	if id == "" {
		id = "show-" + uuid.NewString()
	}
	sh := engine.Showing{
		ID:        engine.ShowingID(id),
		Name:      req.Name,
		StartsAt:  startsAt,
		Capacity:  req.Capacity,
		Remaining: req.Capacity,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveShowing(r.Context(), sh); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create showing", err)
		return
	}
	writeJSON(w, http.StatusCreated, toShowingDTO(sh))
}

// GetShowing returns a single showing.
func (h *Handler) GetShowing(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))
	sh, err := h.Store.GetShowing(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get showing", err)
		return
	}
	if sh == nil {
		writeError(w, http.StatusNotFound, "Showing not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShowingDTO(*sh))
}

// GetAvailability returns remaining capacity, served from the Redis read
// model when possible and falling back to the store.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))

	if h.Cache != nil {
		entry, err := h.Cache.Get(r.Context(), id)
		if err == nil && entry != nil {
			writeJSON(w, http.StatusOK, AvailabilityDTO{
				ShowingID: string(id),
				Capacity:  entry.Capacity,
				Remaining: entry.Remaining,
				Cached:    true,
			})
			return
		}
		// Cache errors degrade to a store read.
	}

	sh, err := h.Store.GetShowing(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get showing", err)
		return
	}
	if sh == nil {
		writeError(w, http.StatusNotFound, "Showing not found", nil)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.Set(r.Context(), cache.Entry{
			ShowingID: sh.ID, Capacity: sh.Capacity, Remaining: sh.Remaining, UpdatedAt: time.Now().UTC(),
		})
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		ShowingID: string(id),
		Capacity:  sh.Capacity,
		Remaining: sh.Remaining,
	})
}

// ListShowingReservations returns all reservations for one showing.
func (h *Handler) ListShowingReservations(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))
	list, err := h.Store.ListReservations(r.Context(), engine.ReservationFilter{ShowingID: &id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(list))
}

// =============================================================================
// CAPACITY OVERRIDE HANDLERS
// =============================================================================

// ApplyOverride replaces a showing's capacity.
func (h *Handler) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Capacity < 0 {
		writeError(w, http.StatusBadRequest, "Capacity must not be negative", nil)
		return
	}
	o, err := h.Capacity.ApplyOverride(r.Context(), id, req.Capacity, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to apply override", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(*o))
}

// ToggleOverride enables or disables an existing override.
func (h *Handler) ToggleOverride(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))
	var req ToggleOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	o, err := h.Capacity.ToggleOverride(r.Context(), id, req.Enabled)
	if err != nil {
		writeEngineError(w, "Failed to toggle override", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(*o))
}

// ClearOverride removes the override, restoring original capacity.
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	id := engine.ShowingID(chi.URLParam(r, "id"))
	if err := h.Capacity.ClearOverride(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to clear override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation creates a reservation in status pending or option.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := engine.StatusPending
	if req.Status != "" {
		status = engine.ReservationStatus(req.Status)
	}
	var optionExpiry *time.Time
	if req.OptionExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.OptionExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid option_expires_at (use RFC3339)", err)
			return
		}
		optionExpiry = &t
	}

	res, err := h.SM.Create(r.Context(), engine.CreateParams{
		ShowingID:       engine.ShowingID(req.ShowingID),
		Email:           req.Email,
		PartySize:       req.PartySize,
		InitialStatus:   status,
		OptionExpiresAt: optionExpiry,
		Actor:           req.Actor,
		Force:           req.Force,
	})
	if err != nil {
		writeEngineError(w, "Failed to create reservation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

// ListReservations returns reservations, optionally filtered by email
// and/or status query parameters.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	var f engine.ReservationFilter
	if email := r.URL.Query().Get("email"); email != "" {
		f.Email = &email
	}
	if status := r.URL.Query().Get("status"); status != "" {
		f.Statuses = []engine.ReservationStatus{engine.ReservationStatus(status)}
	}
	list, err := h.Store.ListReservations(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(list))
}

// GetReservation returns one reservation with its full log.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reservation", err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "Reservation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// Transition moves a reservation through the state machine.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.SM.Transition(r.Context(), id, engine.ReservationStatus(req.Status), req.Actor,
		engine.TransitionOptions{Force: req.Force, Reason: req.Reason})
	if err != nil {
		writeEngineError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// SetPayment updates the payment sub-state.
func (h *Handler) SetPayment(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := engine.PaymentStatus(req.Status)
	switch status {
	case engine.PaymentPending, engine.PaymentPaid, engine.PaymentOverdue:
	default:
		writeError(w, http.StatusBadRequest, "Invalid payment status", nil)
		return
	}
	res, err := h.SM.SetPaymentStatus(r.Context(), id, status, req.Actor)
	if err != nil {
		writeEngineError(w, "Failed to update payment status", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// MarkNoShow marks a reservation no-show and reports whether the
// customer was newly blocked by it.
func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	var req NoShowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, blocked, err := h.Trust.MarkNoShow(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to mark no-show", err)
		return
	}
	writeJSON(w, http.StatusOK, NoShowResponse{Reservation: toReservationDTO(*res), Blocked: blocked})
}

// ReverseNoShow undoes a no-show, restoring confirmed status.
func (h *Handler) ReverseNoShow(w http.ResponseWriter, r *http.Request) {
	id := engine.ReservationID(chi.URLParam(r, "id"))
	var req NoShowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Trust.ReverseNoShow(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to reverse no-show", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// =============================================================================
// CUSTOMER / TRUST HANDLERS
// =============================================================================

// GetBlock returns the active block record, 404 if the customer is not
// blocked (expired blocks are cleared by the read).
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	rec, err := h.Trust.BlockRecord(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get block record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Customer is not blocked", nil)
		return
	}
	writeJSON(w, http.StatusOK, BlockDTO{
		Email:       rec.Email,
		BlockedAt:   fmtTime(rec.BlockedAt),
		BlockedBy:   rec.BlockedBy,
		Reason:      rec.Reason,
		NoShowCount: rec.NoShowCount,
	})
}

// Unblock clears a customer's block. Idempotent.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	var req UnblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Trust.Unblock(r.Context(), email, req.Actor, req.Reason); err != nil {
		writeEngineError(w, "Failed to unblock customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCustomerReservations returns one customer's reservations.
func (h *Handler) ListCustomerReservations(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	list, err := h.Store.ListReservations(r.Context(), engine.ReservationFilter{Email: &email})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(list))
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// IssueVoucher creates a voucher from the request template.
func (h *Handler) IssueVoucher(w http.ResponseWriter, r *http.Request) {
	var req IssueVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	v, err := h.Vouchers.Issue(r.Context(), engine.VoucherTemplate{
		Value:          req.Value,
		ValidDays:      req.ValidDays,
		PendingPayment: req.PendingPayment,
	}, req.Recipient)
	if err != nil {
		writeEngineError(w, "Failed to issue voucher", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherDTO(*v, time.Now()))
}

// ListVouchers returns all vouchers with derived status.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Store.ListVouchers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vouchers", err)
		return
	}
	now := time.Now()
	dtos := make([]VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toVoucherDTO(v, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVoucher returns one voucher with its usage history.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, err := h.Store.GetVoucher(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get voucher", err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Voucher not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(*v, time.Now()))
}

// ValidateVoucher classifies a code without mutating anything.
func (h *Handler) ValidateVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result, err := h.Vouchers.Validate(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to validate voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, ValidationDTO{
		Code:      result.Code,
		State:     string(result.State),
		Remaining: result.Remaining,
		ExpiresAt: fmtTimePtr(result.ExpiresAt),
	})
}

// ApplyVoucher redeems value from a voucher against a reservation.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req ApplyVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	applied, remaining, err := h.Vouchers.Apply(r.Context(), code, req.Amount,
		engine.ReservationID(req.ReservationID))
	if err != nil {
		writeEngineError(w, "Failed to apply voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyVoucherResponse{Code: code, Applied: applied, Remaining: remaining})
}

// ActivateVoucher clears the pending-payment flag.
func (h *Handler) ActivateVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Vouchers.Activate(r.Context(), code); err != nil {
		writeEngineError(w, "Failed to activate voucher", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SWEEP HANDLERS
// =============================================================================

// SweepOptions cancels option holds past expiry.
func (h *Handler) SweepOptions(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Sweeper.SweepExpiredOptions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Option sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(rep))
}

// SweepPayments marks overdue payments.
func (h *Handler) SweepPayments(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Sweeper.SweepOverduePayments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Payment sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(rep))
}

// BackfillPayments fills in missing payment due dates.
func (h *Handler) BackfillPayments(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	rep, err := h.Sweeper.BackfillPaymentDueDates(r.Context(), req.LeadDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Backfill failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(rep))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// RunAudit performs a full consistency scan.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Auditor.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(rep))
}

// FixIssue auto-fixes one issue by ID.
func (h *Handler) FixIssue(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Auditor.AutoFix(r.Context(), req.IssueID)
	if err != nil {
		writeEngineError(w, "Fix failed", err)
		return
	}
	writeJSON(w, http.StatusOK, FixResultDTO{
		IssueID:   result.IssueID,
		Fixed:     result.Fixed,
		Remaining: toIssueDTOs(result.Remaining),
	})
}

// FixAllIssues auto-fixes everything fixable and re-audits.
func (h *Handler) FixAllIssues(w http.ResponseWriter, r *http.Request) {
	result, err := h.Auditor.AutoFixAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Fix-all failed", err)
		return
	}
	dto := FixAllResultDTO{
		Attempted: result.Attempted,
		Fixed:     result.Fixed,
		Failed:    result.Failed,
		Failures:  result.Failures,
	}
	if result.After != nil {
		after := toAuditReportDTO(result.After)
		dto.After = &after
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error classifications to HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrCustomerBlocked):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrCapacityExceeded),
		errors.Is(err, engine.ErrAlreadyNoShow),
		errors.Is(err, engine.ErrAlreadyBlocked),
		engine.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
