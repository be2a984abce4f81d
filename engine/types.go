/*
Package engine is the reservation lifecycle and capacity consistency core.

PURPOSE:
  This package contains the rules and background processes that keep a
  showing's remaining capacity, a reservation's status, a customer's trust
  state, and a voucher's remaining balance mutually consistent under
  concurrent, partially-automated, partially-manual updates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Showing: a dated, timed event instance with capacity bookkeeping
  - Reservation: a booking with a status machine and an append-only log
  - TrustRecord: a single per-customer block record (never duplicated
    into reservation documents)
  - Voucher: a stored-value instrument with read-time status derivation
  - CapacityOverride: an admin record temporarily replacing capacity

DESIGN PRINCIPLES:
  1. Derived state is recomputed from stored facts, never cached in a
     second mutable field (voucher status, auto-unblock).
  2. Reservation logs are append-only; corrections are new entries.
  3. Capacity-counted status membership is the single source of truth
     for every capacity computation in the engine.

SEE ALSO:
  - statemachine.go: Status transitions and their side effects
  - capacity.go: Remaining-capacity computation and overrides
  - store.go: Persistence interfaces
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReservationID string
type ShowingID string

// SystemActor is recorded on log entries written by automated processes
// (sweepers, lazy auto-unblock) rather than a human operator.
const SystemActor = "system"

// =============================================================================
// RESERVATION STATUS - The state machine's vocabulary
// =============================================================================

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusOption    ReservationStatus = "option"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCheckedIn ReservationStatus = "checked_in"
	StatusRejected  ReservationStatus = "rejected"
	StatusCancelled ReservationStatus = "cancelled"
	StatusNoShow    ReservationStatus = "no_show"
)

// CountsAgainstCapacity reports whether a reservation in this status
// consumes seats from its showing's remaining capacity.
func (s ReservationStatus) CountsAgainstCapacity() bool {
	switch s {
	case StatusPending, StatusOption, StatusConfirmed, StatusCheckedIn:
		return true
	}
	return false
}

// Terminal reports whether the status ends the lifecycle. NoShow is
// terminal but reversible through the trust engine.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOption, StatusConfirmed, StatusCheckedIn,
		StatusRejected, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT STATUS - Orthogonal sub-state, not governed by the state machine
// =============================================================================

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// =============================================================================
// RESERVATION
// =============================================================================

// LogEntry is one line of a reservation's append-only audit log.
type LogEntry struct {
	At      time.Time
	Actor   string
	Message string
}

// Reservation is a booking request/commitment against a showing.
// It is mutated only through state-machine transitions and carries an
// optimistic-concurrency version incremented on every write.
type Reservation struct {
	ID        ReservationID
	ShowingID ShowingID
	Email     string
	PartySize int

	Status        ReservationStatus
	PaymentStatus PaymentStatus

	// OptionExpiresAt is set only while Status == StatusOption.
	OptionExpiresAt *time.Time

	// PaymentDueAt is set once confirmed (or backfilled by the payment
	// sweeper) and never overwritten once present.
	PaymentDueAt *time.Time

	Log []LogEntry

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SHOWING
// =============================================================================

// Showing is a single dated/timed instance of the event being booked.
//
// INVARIANT (verified by the Auditor):
//   Remaining == Capacity - sum(PartySize over capacity-counted reservations)
type Showing struct {
	ID        ShowingID
	Name      string
	StartsAt  time.Time
	Capacity  int
	Remaining int
	CreatedAt time.Time
}

// =============================================================================
// TRUST RECORD - Per-customer block state
// =============================================================================

// TrustRecord marks a customer as blocked from booking. There is at most
// one record per email; unblocking deletes the record. The no-show count
// is the lifetime count at the time the block was applied.
type TrustRecord struct {
	Email       string
	BlockedAt   time.Time
	BlockedBy   string
	Reason      string
	NoShowCount int
}

// =============================================================================
// VOUCHER
// =============================================================================

type VoucherStatus string

const (
	VoucherActive         VoucherStatus = "active"
	VoucherUsed           VoucherStatus = "used"
	VoucherExpired        VoucherStatus = "expired"
	VoucherPendingPayment VoucherStatus = "pending_payment"
)

// VoucherUse records one redemption against a reservation.
type VoucherUse struct {
	ReservationID ReservationID
	Amount        decimal.Decimal
	At            time.Time
}

// Voucher is a stored-value instrument. RemainingValue only decreases,
// and only through the conditional decrement in the store. Used/expired
// are derived at read time, never written back.
type Voucher struct {
	Code           string
	InitialValue   decimal.Decimal
	RemainingValue decimal.Decimal

	// PendingPayment marks a voucher issued but awaiting payment
	// confirmation. Cleared on activation.
	PendingPayment bool

	ExpiresAt *time.Time
	Usage     []VoucherUse
	CreatedAt time.Time
}

// EffectiveStatus derives the voucher status from stored fields. This is
// deliberately a pure function of the record and the clock so that the
// stored and displayed representations cannot drift.
func (v *Voucher) EffectiveStatus(now time.Time) VoucherStatus {
	if v.PendingPayment {
		return VoucherPendingPayment
	}
	if v.ExpiresAt != nil && now.After(*v.ExpiresAt) {
		return VoucherExpired
	}
	if !v.RemainingValue.IsPositive() {
		return VoucherUsed
	}
	return VoucherActive
}

// VoucherTemplate describes how Issue creates a voucher.
type VoucherTemplate struct {
	Value          decimal.Decimal
	ValidDays      int // 0 means no expiry
	PendingPayment bool
}

// =============================================================================
// CAPACITY OVERRIDE
// =============================================================================

// CapacityOverride temporarily replaces a showing's capacity. The original
// capacity is retained so toggling off or clearing the override restores it.
type CapacityOverride struct {
	ShowingID        ShowingID
	OriginalCapacity int
	OverrideCapacity int
	Reason           string
	Enabled          bool
	CreatedAt        time.Time
}
