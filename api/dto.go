/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// SHOWINGS
// =============================================================================

// ShowingDTO represents a showing in API responses.
type ShowingDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateShowingRequest is the request to create a showing.
type CreateShowingRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	StartsAt string `json:"starts_at"` // RFC3339
	Capacity int    `json:"capacity"`
}

// AvailabilityDTO is the (possibly cached) availability snapshot.
type AvailabilityDTO struct {
	ShowingID string `json:"showing_id"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
	Cached    bool   `json:"cached"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// LogEntryDTO is one reservation log line.
type LogEntryDTO struct {
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Message string `json:"message"`
}

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID              string        `json:"id"`
	ShowingID       string        `json:"showing_id"`
	Email           string        `json:"email"`
	PartySize       int           `json:"party_size"`
	Status          string        `json:"status"`
	PaymentStatus   string        `json:"payment_status"`
	OptionExpiresAt *string       `json:"option_expires_at,omitempty"`
	PaymentDueAt    *string       `json:"payment_due_at,omitempty"`
	Log             []LogEntryDTO `json:"log"`
	Version         int           `json:"version"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

// CreateReservationRequest is the request to create a reservation.
// Status defaults to "pending"; "option" requires option_expires_at.
type CreateReservationRequest struct {
	ShowingID       string  `json:"showing_id"`
	Email           string  `json:"email"`
	PartySize       int     `json:"party_size"`
	Status          string  `json:"status,omitempty"`
	OptionExpiresAt *string `json:"option_expires_at,omitempty"`
	Actor           string  `json:"actor"`
	Force           bool    `json:"force,omitempty"`
}

// TransitionRequest moves a reservation to a new status.
type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// PaymentRequest updates the payment sub-state.
type PaymentRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

// NoShowRequest marks or reverses a no-show.
type NoShowRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// TRUST
// =============================================================================

// BlockDTO represents an active customer block.
type BlockDTO struct {
	Email       string `json:"email"`
	BlockedAt   string `json:"blocked_at"`
	BlockedBy   string `json:"blocked_by"`
	Reason      string `json:"reason"`
	NoShowCount int    `json:"no_show_count"`
}

// UnblockRequest clears a customer block.
type UnblockRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// NoShowResponse is returned from marking a no-show: the updated
// reservation plus whether the customer was newly blocked by it.
type NoShowResponse struct {
	Reservation ReservationDTO `json:"reservation"`
	Blocked     bool           `json:"blocked"`
}

// =============================================================================
// CAPACITY OVERRIDES
// =============================================================================

// OverrideRequest applies a capacity override to a showing.
type OverrideRequest struct {
	Capacity int    `json:"capacity"`
	Reason   string `json:"reason"`
}

// ToggleOverrideRequest enables or disables an existing override.
type ToggleOverrideRequest struct {
	Enabled bool `json:"enabled"`
}

// OverrideDTO represents a capacity override.
type OverrideDTO struct {
	ShowingID        string `json:"showing_id"`
	OriginalCapacity int    `json:"original_capacity"`
	OverrideCapacity int    `json:"override_capacity"`
	Reason           string `json:"reason"`
	Enabled          bool   `json:"enabled"`
	CreatedAt        string `json:"created_at"`
}

// =============================================================================
// VOUCHERS
// =============================================================================

// IssueVoucherRequest creates a voucher.
type IssueVoucherRequest struct {
	Value          decimal.Decimal `json:"value"`
	ValidDays      int             `json:"valid_days,omitempty"`
	PendingPayment bool            `json:"pending_payment,omitempty"`
	Recipient      string          `json:"recipient,omitempty"`
}

// VoucherUseDTO is one redemption line.
type VoucherUseDTO struct {
	ReservationID string          `json:"reservation_id"`
	Amount        decimal.Decimal `json:"amount"`
	At            string          `json:"at"`
}

// VoucherDTO represents a voucher in API responses. Status is derived
// at response time, never stored.
type VoucherDTO struct {
	Code           string          `json:"code"`
	InitialValue   decimal.Decimal `json:"initial_value"`
	RemainingValue decimal.Decimal `json:"remaining_value"`
	Status         string          `json:"status"`
	ExpiresAt      *string         `json:"expires_at,omitempty"`
	Usage          []VoucherUseDTO `json:"usage"`
	CreatedAt      string          `json:"created_at"`
}

// ValidationDTO is the result of validating a code.
type ValidationDTO struct {
	Code      string          `json:"code"`
	State     string          `json:"state"`
	Remaining decimal.Decimal `json:"remaining"`
	ExpiresAt *string         `json:"expires_at,omitempty"`
}

// ApplyVoucherRequest redeems value against a reservation.
type ApplyVoucherRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	ReservationID string          `json:"reservation_id"`
}

// ApplyVoucherResponse reports the applied and remaining amounts.
type ApplyVoucherResponse struct {
	Code      string          `json:"code"`
	Applied   decimal.Decimal `json:"applied"`
	Remaining decimal.Decimal `json:"remaining"`
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepRecordDTO is one record line of a sweep report.
type SweepRecordDTO struct {
	ReservationID string `json:"reservation_id"`
	ShowingID     string `json:"showing_id"`
	Email         string `json:"email"`
	PartySize     int    `json:"party_size"`
	Deadline      string `json:"deadline,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SweepReportDTO summarizes one sweep run.
type SweepReportDTO struct {
	RanAt     string           `json:"ran_at"`
	Evaluated int              `json:"evaluated"`
	Applied   int              `json:"applied"`
	Failed    int              `json:"failed"`
	Records   []SweepRecordDTO `json:"records"`
}

// BackfillRequest configures the payment due date backfill.
type BackfillRequest struct {
	LeadDays int `json:"lead_days,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

// IssueDTO is one detected inconsistency.
type IssueDTO struct {
	ID            string `json:"id"`
	Severity      string `json:"severity"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	AutoFixable   bool   `json:"auto_fixable"`
	ShowingID     string `json:"showing_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

// AuditReportDTO is the result of one audit scan.
type AuditReportDTO struct {
	RanAt    string     `json:"ran_at"`
	Issues   []IssueDTO `json:"issues"`
	Errors   int        `json:"errors"`
	Warnings int        `json:"warnings"`
	Fixable  int        `json:"fixable"`
}

// FixRequest identifies the issue to auto-fix.
type FixRequest struct {
	IssueID string `json:"issue_id"`
}

// FixResultDTO reports one auto-fix attempt.
type FixResultDTO struct {
	IssueID   string     `json:"issue_id"`
	Fixed     bool       `json:"fixed"`
	Remaining []IssueDTO `json:"remaining"`
}

// FixAllResultDTO aggregates a fix-all run.
type FixAllResultDTO struct {
	Attempted int             `json:"attempted"`
	Fixed     int             `json:"fixed"`
	Failed    int             `json:"failed"`
	Failures  []string        `json:"failures,omitempty"`
	After     *AuditReportDTO `json:"after,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ID string `json:"id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func fmtTime(t time.Time) string { return t.Format(time.RFC3339) }

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toShowingDTO(sh engine.Showing) ShowingDTO {
	return ShowingDTO{
		ID:        string(sh.ID),
		Name:      sh.Name,
		StartsAt:  fmtTime(sh.StartsAt),
		Capacity:  sh.Capacity,
		Remaining: sh.Remaining,
		CreatedAt: fmtTime(sh.CreatedAt),
	}
}

func toReservationDTO(r engine.Reservation) ReservationDTO {
	log := make([]LogEntryDTO, len(r.Log))
	for i, e := range r.Log {
		log[i] = LogEntryDTO{At: fmtTime(e.At), Actor: e.Actor, Message: e.Message}
	}
	return ReservationDTO{
		ID:              string(r.ID),
		ShowingID:       string(r.ShowingID),
		Email:           r.Email,
		PartySize:       r.PartySize,
		Status:          string(r.Status),
		PaymentStatus:   string(r.PaymentStatus),
		OptionExpiresAt: fmtTimePtr(r.OptionExpiresAt),
		PaymentDueAt:    fmtTimePtr(r.PaymentDueAt),
		Log:             log,
		Version:         r.Version,
		CreatedAt:       fmtTime(r.CreatedAt),
		UpdatedAt:       fmtTime(r.UpdatedAt),
	}
}

func toReservationDTOs(rs []engine.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toReservationDTO(r)
	}
	return dtos
}

func toVoucherDTO(v engine.Voucher, now time.Time) VoucherDTO {
	usage := make([]VoucherUseDTO, len(v.Usage))
	for i, u := range v.Usage {
		usage[i] = VoucherUseDTO{
			ReservationID: string(u.ReservationID),
			Amount:        u.Amount,
			At:            fmtTime(u.At),
		}
	}
	return VoucherDTO{
		Code:           v.Code,
		InitialValue:   v.InitialValue,
		RemainingValue: v.RemainingValue,
		Status:         string(v.EffectiveStatus(now)),
		ExpiresAt:      fmtTimePtr(v.ExpiresAt),
		Usage:          usage,
		CreatedAt:      fmtTime(v.CreatedAt),
	}
}

func toOverrideDTO(o engine.CapacityOverride) OverrideDTO {
	return OverrideDTO{
		ShowingID:        string(o.ShowingID),
		OriginalCapacity: o.OriginalCapacity,
		OverrideCapacity: o.OverrideCapacity,
		Reason:           o.Reason,
		Enabled:          o.Enabled,
		CreatedAt:        fmtTime(o.CreatedAt),
	}
}

func toSweepReportDTO(rep *engine.SweepReport) SweepReportDTO {
	records := make([]SweepRecordDTO, len(rep.Records))
	for i, rec := range rep.Records {
		dto := SweepRecordDTO{
			ReservationID: string(rec.ReservationID),
			ShowingID:     string(rec.ShowingID),
			Email:         rec.Email,
			PartySize:     rec.PartySize,
			Error:         rec.Err,
		}
		if !rec.Deadline.IsZero() {
			dto.Deadline = fmtTime(rec.Deadline)
		}
		records[i] = dto
	}
	return SweepReportDTO{
		RanAt:     fmtTime(rep.RanAt),
		Evaluated: rep.Evaluated,
		Applied:   rep.Applied,
		Failed:    rep.Failed,
		Records:   records,
	}
}

func toIssueDTO(i engine.Issue) IssueDTO {
	return IssueDTO{
		ID:            i.ID,
		Severity:      string(i.Severity),
		Category:      string(i.Category),
		Description:   i.Description,
		AutoFixable:   i.AutoFixable,
		ShowingID:     string(i.ShowingID),
		ReservationID: string(i.ReservationID),
		Email:         i.Email,
	}
}

func toIssueDTOs(issues []engine.Issue) []IssueDTO {
	dtos := make([]IssueDTO, len(issues))
	for i, issue := range issues {
		dtos[i] = toIssueDTO(issue)
	}
	return dtos
}

func toAuditReportDTO(rep *engine.AuditReport) AuditReportDTO {
	return AuditReportDTO{
		RanAt:    fmtTime(rep.RanAt),
		Issues:   toIssueDTOs(rep.Issues),
		Errors:   rep.Errors,
		Warnings: rep.Warnings,
		Fixable:  rep.Fixable,
	}
}
