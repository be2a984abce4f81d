/*
trust.go - No-show tracking and customer block state

PURPOSE:
  Records no-show events, blocks customers who cross the threshold, and
  enforces booking eligibility. Block state lives in a single TrustRecord
  per customer email; reservation documents never carry a copy of it, so
  there is no fan-out write and no partially-blocked state to reconcile.

LAZY UNBLOCK:
  Auto-unblock after the retention window is computed at read time from
  the stored BlockedAt timestamp. IsBlocked clears the record as a side
  effect of the read once the window has passed.

SEE ALSO:
  - statemachine.go: performs the underlying no_show transitions
  - audit.go: surfaces duplicate active bookings per customer
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	// DefaultNoShowThreshold is the lifetime no-show count at which a
	// customer is blocked.
	DefaultNoShowThreshold = 2

	// DefaultUnblockWindow is how long a block lasts before it expires
	// on its own.
	DefaultUnblockWindow = 180 * 24 * time.Hour
)

// =============================================================================
// TRUST ENGINE
// =============================================================================

type TrustEngine struct {
	Store  TxStore
	SM     *StateMachine
	Events Publisher
	Clock  func() time.Time

	// Threshold defaults to DefaultNoShowThreshold when zero.
	Threshold int

	// UnblockWindow defaults to DefaultUnblockWindow when zero.
	UnblockWindow time.Duration
}

func (te *TrustEngine) threshold() int {
	if te.Threshold > 0 {
		return te.Threshold
	}
	return DefaultNoShowThreshold
}

func (te *TrustEngine) unblockWindow() time.Duration {
	if te.UnblockWindow > 0 {
		return te.UnblockWindow
	}
	return DefaultUnblockWindow
}

func (te *TrustEngine) now() time.Time { return nowFunc(te.Clock) }

// =============================================================================
// MARK / REVERSE NO-SHOW
// =============================================================================

// MarkNoShow transitions a reservation to no_show, recounts the
// customer's lifetime no-shows, and blocks the customer if the count
// reaches the threshold. Returns whether a block was newly applied so
// the caller can warn the operator.
func (te *TrustEngine) MarkNoShow(ctx context.Context, id ReservationID, actor, reason string) (*Reservation, bool, error) {
	res, err := te.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return nil, false, &NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if res.Status == StatusNoShow {
		return nil, false, fmt.Errorf("reservation %s: %w", id, ErrAlreadyNoShow)
	}

	res, err = te.SM.Transition(ctx, id, StatusNoShow, actor, TransitionOptions{Reason: reason})
	if err != nil {
		return nil, false, err
	}

	count, err := te.Store.CountNoShows(ctx, res.Email)
	if err != nil {
		return res, false, err
	}
	if count < te.threshold() {
		return res, false, nil
	}

	existing, err := te.Store.GetTrustRecord(ctx, res.Email)
	if err != nil {
		return res, false, err
	}
	if existing != nil {
		return res, false, nil // already blocked, nothing new to apply
	}

	now := te.now()
	blockReason := fmt.Sprintf("no-show threshold reached (%d no-shows)", count)
	rec := TrustRecord{
		Email:       res.Email,
		BlockedAt:   now,
		BlockedBy:   actor,
		Reason:      blockReason,
		NoShowCount: count,
	}
	entry := LogEntry{At: now, Actor: actor, Message: "customer blocked: " + blockReason}
	err = te.Store.WithTx(ctx, func(s Store) error {
		if err := s.SaveTrustRecord(ctx, rec); err != nil {
			return err
		}
		return s.AppendReservationLog(ctx, id, entry)
	})
	if err != nil {
		return res, false, err
	}

	publish(ctx, te.Events, CustomerBlocked{Email: res.Email, Reason: blockReason, NoShowCount: count, At: now})
	return res, true, nil
}

// ReverseNoShow undoes a no-show ("undo"): restores confirmed status,
// re-acquiring capacity, and re-runs the trust computation. If the new
// count is under the threshold the customer is auto-unblocked.
func (te *TrustEngine) ReverseNoShow(ctx context.Context, id ReservationID, actor, reason string) (*Reservation, error) {
	res, err := te.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if res.Status != StatusNoShow {
		return nil, &TransitionError{ReservationID: id, From: res.Status, To: StatusConfirmed}
	}

	res, err = te.SM.Transition(ctx, id, StatusConfirmed, actor, TransitionOptions{Reason: reason})
	if err != nil {
		return nil, err
	}

	count, err := te.Store.CountNoShows(ctx, res.Email)
	if err != nil {
		return res, err
	}
	if count >= te.threshold() {
		return res, nil
	}

	rec, err := te.Store.GetTrustRecord(ctx, res.Email)
	if err != nil {
		return res, err
	}
	if rec == nil {
		return res, nil
	}
	if err := te.Store.DeleteTrustRecord(ctx, res.Email); err != nil {
		return res, err
	}
	now := te.now()
	entry := LogEntry{At: now, Actor: actor,
		Message: fmt.Sprintf("customer unblocked: no-show count dropped to %d", count)}
	if err := te.Store.AppendReservationLog(ctx, id, entry); err != nil {
		return res, err
	}
	publish(ctx, te.Events, CustomerUnblocked{Email: res.Email, Actor: actor, Auto: true, At: now})
	return res, nil
}

// =============================================================================
// BLOCK STATE
// =============================================================================

// IsBlocked reports whether the customer is currently blocked. A block
// past the retention window is cleared as a side effect of the read.
func (te *TrustEngine) IsBlocked(ctx context.Context, email string) (bool, error) {
	rec, err := te.Store.GetTrustRecord(ctx, email)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	now := te.now()
	if now.Sub(rec.BlockedAt) >= te.unblockWindow() {
		if err := te.Store.DeleteTrustRecord(ctx, email); err != nil {
			return true, err
		}
		publish(ctx, te.Events, CustomerUnblocked{Email: email, Actor: SystemActor, Auto: true, At: now})
		return false, nil
	}
	return true, nil
}

// BlockRecord returns the active trust record, applying the same lazy
// expiry as IsBlocked. Nil when the customer is not blocked.
func (te *TrustEngine) BlockRecord(ctx context.Context, email string) (*TrustRecord, error) {
	blocked, err := te.IsBlocked(ctx, email)
	if err != nil || !blocked {
		return nil, err
	}
	return te.Store.GetTrustRecord(ctx, email)
}

// EnsureEligible implements BookingGate for the state machine.
func (te *TrustEngine) EnsureEligible(ctx context.Context, email string) error {
	blocked, err := te.IsBlocked(ctx, email)
	if err != nil {
		return err
	}
	if !blocked {
		return nil
	}
	rec, err := te.Store.GetTrustRecord(ctx, email)
	if err != nil {
		return err
	}
	be := &BlockedError{Email: email}
	if rec != nil {
		be.Reason = rec.Reason
		be.BlockedAt = rec.BlockedAt.Format(time.RFC3339)
	}
	return be
}

// Unblock clears the customer's block. Idempotent: unblocking an
// unblocked customer succeeds without effect.
func (te *TrustEngine) Unblock(ctx context.Context, email, actor, reason string) error {
	rec, err := te.Store.GetTrustRecord(ctx, email)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := te.Store.DeleteTrustRecord(ctx, email); err != nil {
		return err
	}
	now := te.now()
	log.Printf("[Trust] %s unblocked by %s: %s", email, actor, reason)
	publish(ctx, te.Events, CustomerUnblocked{Email: email, Actor: actor, Auto: false, At: now})
	return nil
}
