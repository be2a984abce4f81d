/*
capacity.go - Remaining-capacity computation and administrative overrides

PURPOSE:
  The stored Remaining on a showing is a derived value maintained by the
  state machine. This file holds the pure recomputation used to verify
  it, and the admin override lifecycle that temporarily replaces a
  showing's capacity while preserving the original for restoration.

GUARANTEE:
  After any engine-mediated transition, stored Remaining equals
  ComputeRemaining unless an override or an uncoordinated external write
  introduced drift. That divergence is exactly what the auditor detects.

SEE ALSO:
  - statemachine.go: applies capacity deltas inside transitions
  - audit.go: detects and repairs drift
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// CAPACITY LEDGER
// =============================================================================

type CapacityLedger struct {
	Store  TxStore
	Events Publisher
	Clock  func() time.Time
}

// NewCapacityLedger wires a ledger over the store.
func NewCapacityLedger(store TxStore, events Publisher) *CapacityLedger {
	return &CapacityLedger{Store: store, Events: events}
}

// ComputeRemaining recomputes remaining capacity from the reservation
// set: capacity minus the party sizes of capacity-counted reservations.
// Pure read; never writes.
func (cl *CapacityLedger) ComputeRemaining(ctx context.Context, id ShowingID) (int, error) {
	sh, err := cl.Store.GetShowing(ctx, id)
	if err != nil {
		return 0, err
	}
	if sh == nil {
		return 0, &NotFoundError{Kind: "showing", ID: string(id)}
	}
	return computeRemaining(ctx, cl.Store, sh)
}

// computeRemaining is shared with the auditor so the two can never
// disagree about what "remaining" means.
func computeRemaining(ctx context.Context, s Store, sh *Showing) (int, error) {
	list, err := s.ListReservations(ctx, ReservationFilter{ShowingID: &sh.ID})
	if err != nil {
		return 0, err
	}
	consumed := 0
	for _, r := range list {
		if r.Status.CountsAgainstCapacity() {
			consumed += r.PartySize
		}
	}
	return sh.Capacity - consumed, nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

// ApplyOverride replaces a showing's capacity (and its remaining, keeping
// the consumed count intact) and records the override with the original
// capacity for later restoration. Re-applying updates the override value
// but keeps the first original capacity.
func (cl *CapacityLedger) ApplyOverride(ctx context.Context, id ShowingID, newCapacity int, reason string) (*CapacityOverride, error) {
	now := nowFunc(cl.Clock)
	var (
		override  CapacityOverride
		remaining int
	)
	err := cl.Store.WithTx(ctx, func(s Store) error {
		sh, err := s.GetShowing(ctx, id)
		if err != nil {
			return err
		}
		if sh == nil {
			return &NotFoundError{Kind: "showing", ID: string(id)}
		}

		original := sh.Capacity
		if existing, err := s.GetOverride(ctx, id); err != nil {
			return err
		} else if existing != nil {
			original = existing.OriginalCapacity
		}

		consumed := sh.Capacity - sh.Remaining
		override = CapacityOverride{
			ShowingID:        id,
			OriginalCapacity: original,
			OverrideCapacity: newCapacity,
			Reason:           reason,
			Enabled:          true,
			CreatedAt:        now,
		}
		if err := s.SaveOverride(ctx, override); err != nil {
			return err
		}
		return s.UpdateShowing(ctx, id, func(u *Showing) error {
			u.Capacity = newCapacity
			u.Remaining = newCapacity - consumed
			remaining = u.Remaining
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, cl.Events, CapacityChanged{ShowingID: id, Capacity: newCapacity, Remaining: remaining, At: now})
	return &override, nil
}

// ToggleOverride enables or disables an existing override, swapping the
// showing between override and original capacity. Idempotent per state.
func (cl *CapacityLedger) ToggleOverride(ctx context.Context, id ShowingID, enabled bool) (*CapacityOverride, error) {
	now := nowFunc(cl.Clock)
	var (
		override  CapacityOverride
		capacity  int
		remaining int
		changed   bool
	)
	err := cl.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOverride(ctx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return &NotFoundError{Kind: "override", ID: string(id)}
		}
		if o.Enabled == enabled {
			override = *o
			return nil
		}
		capacity = o.OriginalCapacity
		if enabled {
			capacity = o.OverrideCapacity
		}
		if err := s.UpdateShowing(ctx, id, func(u *Showing) error {
			consumed := u.Capacity - u.Remaining
			u.Capacity = capacity
			u.Remaining = capacity - consumed
			remaining = u.Remaining
			return nil
		}); err != nil {
			return err
		}
		o.Enabled = enabled
		if err := s.SaveOverride(ctx, *o); err != nil {
			return err
		}
		override = *o
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		publish(ctx, cl.Events, CapacityChanged{ShowingID: id, Capacity: capacity, Remaining: remaining, At: now})
	}
	return &override, nil
}

// ClearOverride deletes the override, restoring the original capacity if
// the override was active. Clearing a showing without an override is a
// no-op.
func (cl *CapacityLedger) ClearOverride(ctx context.Context, id ShowingID) error {
	now := nowFunc(cl.Clock)
	var (
		capacity  int
		remaining int
		restored  bool
	)
	err := cl.Store.WithTx(ctx, func(s Store) error {
		o, err := s.GetOverride(ctx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return nil
		}
		if o.Enabled {
			if err := s.UpdateShowing(ctx, id, func(u *Showing) error {
				consumed := u.Capacity - u.Remaining
				u.Capacity = o.OriginalCapacity
				u.Remaining = o.OriginalCapacity - consumed
				capacity = u.Capacity
				remaining = u.Remaining
				return nil
			}); err != nil {
				return err
			}
			restored = true
		}
		return s.DeleteOverride(ctx, id)
	})
	if err != nil {
		return err
	}
	if restored {
		publish(ctx, cl.Events, CapacityChanged{ShowingID: id, Capacity: capacity, Remaining: remaining, At: now})
	}
	return nil
}
