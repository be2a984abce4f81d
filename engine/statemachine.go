/*
statemachine.go - Reservation status transitions and their side effects

PURPOSE:
  Enforces the valid status moves and makes each transition atomic from
  the caller's perspective: status change, capacity adjustment, and log
  entry are written in one store transaction, or not at all.

TRANSITION TABLE:
  pending/option -> confirmed    capacity check unless forced; sets due date
  option         -> cancelled    releases capacity (manual or sweeper)
  confirmed/checked_in -> no_show  releases capacity; trust engine follows up
  no_show        -> confirmed    reversal; re-acquires capacity
  any non-terminal -> cancelled/rejected  releases capacity if counted

CAPACITY POLICY:
  Acquiring capacity past zero fails with ErrCapacityExceeded unless the
  caller sets Force (administrative force-booking). A forced acquisition
  may push remaining capacity negative; that is accepted and flagged in
  the reservation log and by the auditor. No-show reversal is the one
  unforced path allowed to go negative: rejecting the reversal would
  leave the customer wrongly penalized, so the overbooking is taken and
  surfaced instead.

SEE ALSO:
  - capacity.go: remaining-capacity computation and overrides
  - trust.go: orchestrates no_show transitions and block state
  - sweep.go: automated option expiry and payment overdue batches
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPaymentLeadDays is how many days before the showing a payment
// falls due when no explicit due date is given.
const DefaultPaymentLeadDays = 7

// =============================================================================
// STATE MACHINE
// =============================================================================

// BookingGate decides whether a customer may create new reservations.
// Implemented by the trust engine.
type BookingGate interface {
	EnsureEligible(ctx context.Context, email string) error
}

// TransitionOptions carries per-call flags for a transition.
type TransitionOptions struct {
	// Force bypasses capacity checks (administrative force-booking).
	// Remaining capacity may go negative; this is intentional overbooking
	// and is flagged in the reservation log.
	Force bool

	// Reason is appended to the transition's log entry.
	Reason string
}

// CreateParams describes a new reservation.
type CreateParams struct {
	ShowingID       ShowingID
	Email           string
	PartySize       int
	InitialStatus   ReservationStatus // StatusPending or StatusOption
	OptionExpiresAt *time.Time        // required when InitialStatus is option
	Actor           string
	Force           bool
}

// StateMachine owns reservation lifecycle transitions.
type StateMachine struct {
	Store  TxStore
	Gate   BookingGate // optional; nil disables eligibility checks
	Events Publisher
	Clock  func() time.Time

	// PaymentLeadDays defaults to DefaultPaymentLeadDays when zero.
	PaymentLeadDays int
}

func (sm *StateMachine) now() time.Time { return nowFunc(sm.Clock) }

func (sm *StateMachine) leadDays() int {
	if sm.PaymentLeadDays > 0 {
		return sm.PaymentLeadDays
	}
	return DefaultPaymentLeadDays
}

// =============================================================================
// CREATE
// =============================================================================

// Create makes a new reservation in status pending or option, consuming
// capacity. Blocked customers are refused unless Force is set.
func (sm *StateMachine) Create(ctx context.Context, p CreateParams) (*Reservation, error) {
	if p.PartySize < 1 {
		return nil, fmt.Errorf("party size must be at least 1, got %d", p.PartySize)
	}
	if p.InitialStatus != StatusPending && p.InitialStatus != StatusOption {
		return nil, &TransitionError{To: p.InitialStatus}
	}
	if p.InitialStatus == StatusOption && p.OptionExpiresAt == nil {
		return nil, fmt.Errorf("option reservations require an expiry timestamp")
	}
	if sm.Gate != nil && !p.Force {
		if err := sm.Gate.EnsureEligible(ctx, p.Email); err != nil {
			return nil, err
		}
	}

	now := sm.now()
	id := ReservationID("res-" + uuid.NewString())

	var (
		created   *Reservation
		remaining int
		capacity  int
	)
	err := sm.Store.WithTx(ctx, func(s Store) error {
		sh, err := s.GetShowing(ctx, p.ShowingID)
		if err != nil {
			return err
		}
		if sh == nil {
			return &NotFoundError{Kind: "showing", ID: string(p.ShowingID)}
		}
		if sh.Remaining < p.PartySize && !p.Force {
			return &CapacityError{ShowingID: sh.ID, Requested: p.PartySize, Remaining: sh.Remaining}
		}

		if err := s.UpdateShowing(ctx, sh.ID, func(u *Showing) error {
			u.Remaining -= p.PartySize
			remaining = u.Remaining
			capacity = u.Capacity
			return nil
		}); err != nil {
			return err
		}

		r := Reservation{
			ID:              id,
			ShowingID:       p.ShowingID,
			Email:           p.Email,
			PartySize:       p.PartySize,
			Status:          p.InitialStatus,
			PaymentStatus:   PaymentPending,
			OptionExpiresAt: p.OptionExpiresAt,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.CreateReservation(ctx, r); err != nil {
			return err
		}

		msg := fmt.Sprintf("created with status %s (party of %d)", p.InitialStatus, p.PartySize)
		if p.Force && remaining < 0 {
			msg += fmt.Sprintf("; force-booked, showing overbooked (remaining %d)", remaining)
		}
		if err := s.AppendReservationLog(ctx, id, LogEntry{At: now, Actor: p.Actor, Message: msg}); err != nil {
			return err
		}

		got, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		created = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, sm.Events, ReservationStatusChanged{
		ReservationID: id, ShowingID: p.ShowingID, Email: p.Email,
		To: p.InitialStatus, Actor: p.Actor, At: now,
	})
	publish(ctx, sm.Events, CapacityChanged{
		ShowingID: p.ShowingID, Capacity: capacity, Remaining: remaining, At: now,
	})
	return created, nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// transitionAllowed is the transition table. Creation statuses (pending,
// option) are never re-entered.
func transitionAllowed(from, to ReservationStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusCancelled, StatusRejected:
		return !from.Terminal()
	case StatusConfirmed:
		return from == StatusPending || from == StatusOption || from == StatusNoShow
	case StatusCheckedIn:
		return from == StatusConfirmed
	case StatusNoShow:
		return from == StatusConfirmed || from == StatusCheckedIn
	}
	return false
}

// Transition moves a reservation to target and applies the capacity and
// log side effects in the same store transaction. Events are emitted
// after commit.
func (sm *StateMachine) Transition(ctx context.Context, id ReservationID, target ReservationStatus, actor string, opts TransitionOptions) (*Reservation, error) {
	if !target.Valid() {
		return nil, &TransitionError{ReservationID: id, To: target}
	}

	now := sm.now()
	var (
		updated *Reservation
		evts    []Event
	)
	err := sm.Store.WithTx(ctx, func(s Store) error {
		evts = evts[:0]

		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res == nil {
			return &NotFoundError{Kind: "reservation", ID: string(id)}
		}
		from := res.Status
		if !transitionAllowed(from, target) {
			return &TransitionError{ReservationID: id, From: from, To: target}
		}

		sh, err := s.GetShowing(ctx, res.ShowingID)
		if err != nil {
			return err
		}
		if sh == nil {
			return &NotFoundError{Kind: "showing", ID: string(res.ShowingID)}
		}

		fromCounts := from.CountsAgainstCapacity()
		toCounts := target.CountsAgainstCapacity()

		// Confirming a held (already counted) reservation is capacity
		// neutral, but confirming onto an overbooked showing still fails
		// unless forced.
		if target == StatusConfirmed && fromCounts && sh.Remaining < 0 && !opts.Force {
			return &CapacityError{ShowingID: sh.ID, Requested: res.PartySize, Remaining: sh.Remaining}
		}

		delta := 0
		switch {
		case fromCounts && !toCounts:
			delta = res.PartySize // release
		case !fromCounts && toCounts:
			delta = -res.PartySize // re-acquire (no-show reversal)
		}

		remaining := sh.Remaining
		if delta != 0 {
			if err := s.UpdateShowing(ctx, sh.ID, func(u *Showing) error {
				u.Remaining += delta
				remaining = u.Remaining
				return nil
			}); err != nil {
				return err
			}
			evts = append(evts, CapacityChanged{
				ShowingID: sh.ID, Capacity: sh.Capacity, Remaining: remaining, At: now,
			})
		}

		if err := s.UpdateReservation(ctx, id, func(r *Reservation) error {
			r.Status = target
			if from == StatusOption {
				r.OptionExpiresAt = nil
			}
			if target == StatusConfirmed && r.PaymentDueAt == nil {
				due := paymentDue(sh.StartsAt, sm.leadDays(), now)
				r.PaymentDueAt = &due
			}
			r.UpdatedAt = now
			return nil
		}); err != nil {
			return err
		}

		msg := fmt.Sprintf("status changed: %s -> %s", from, target)
		if opts.Reason != "" {
			msg += ": " + opts.Reason
		}
		if err := s.AppendReservationLog(ctx, id, LogEntry{At: now, Actor: actor, Message: msg}); err != nil {
			return err
		}
		if delta < 0 && remaining < 0 {
			overbook := LogEntry{At: now, Actor: actor,
				Message: fmt.Sprintf("showing overbooked on re-acquisition (remaining %d)", remaining)}
			if err := s.AppendReservationLog(ctx, id, overbook); err != nil {
				return err
			}
		}

		got, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		updated = got
		evts = append(evts, ReservationStatusChanged{
			ReservationID: id, ShowingID: res.ShowingID, Email: res.Email,
			From: from, To: target, Actor: actor, At: now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range evts {
		publish(ctx, sm.Events, e)
	}
	return updated, nil
}

// =============================================================================
// PAYMENT SUB-STATE
// =============================================================================

// SetPaymentStatus updates the payment sub-state. This is bookkeeping
// only; it is orthogonal to the reservation status machine.
func (sm *StateMachine) SetPaymentStatus(ctx context.Context, id ReservationID, status PaymentStatus, actor string) (*Reservation, error) {
	now := sm.now()
	var updated *Reservation
	err := sm.Store.WithTx(ctx, func(s Store) error {
		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res == nil {
			return &NotFoundError{Kind: "reservation", ID: string(id)}
		}
		if res.PaymentStatus == status {
			updated = res
			return nil
		}
		prior := res.PaymentStatus
		if err := s.UpdateReservation(ctx, id, func(r *Reservation) error {
			r.PaymentStatus = status
			r.UpdatedAt = now
			return nil
		}); err != nil {
			return err
		}
		entry := LogEntry{At: now, Actor: actor,
			Message: fmt.Sprintf("payment status changed: %s -> %s", prior, status)}
		if err := s.AppendReservationLog(ctx, id, entry); err != nil {
			return err
		}
		got, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		updated = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// paymentDue computes the default payment due date: leadDays before the
// showing, clamped so it never precedes now.
func paymentDue(startsAt time.Time, leadDays int, now time.Time) time.Time {
	due := startsAt.AddDate(0, 0, -leadDays)
	if due.Before(now) {
		return now
	}
	return due
}
