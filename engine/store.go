/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the contract between the engine and the document store. The
  engine is specified independently of any storage technology: it needs
  per-record atomic read-modify-write and, where available, transactions
  spanning the reservation and showing records of one transition.

PER-RECORD UPDATES:
  Every mutation goes through UpdateReservation/UpdateShowing, which load
  one record, apply a mutation function, and write that one record back
  (version-checked). There is no "load everything, rewrite everything"
  path anywhere in the engine; concurrent sweepers and manual edits
  cannot silently drop each other's writes.

CONDITIONAL DECREMENT:
  DecrementVoucher is the one operation with a hard atomicity
  requirement: write only if the remaining value is unchanged, returning
  ErrConcurrentModification otherwise so the caller can retry. This
  closes the double-spend race on concurrent redemptions.

TRANSACTIONS:
  TxStore.WithTx runs a function against a transactional view. Both
  bundled implementations support it; an implementation that cannot may
  satisfy only Store, accepting drift that the Auditor repairs.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - engine/store: in-memory store for tests and development

SEE ALSO:
  - statemachine.go: composes reservation+showing writes under WithTx
  - audit.go: detects drift introduced by paths that bypass the engine
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

// ReservationFilter narrows ListReservations. Nil/empty fields match all.
type ReservationFilter struct {
	ShowingID       *ShowingID
	Email           *string
	Statuses        []ReservationStatus
	PaymentStatuses []PaymentStatus
}

// Matches reports whether r satisfies the filter. Shared by store
// implementations so filter semantics cannot diverge.
func (f ReservationFilter) Matches(r *Reservation) bool {
	if f.ShowingID != nil && r.ShowingID != *f.ShowingID {
		return false
	}
	if f.Email != nil && r.Email != *f.Email {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
		return false
	}
	if len(f.PaymentStatuses) > 0 && !containsPayment(f.PaymentStatuses, r.PaymentStatus) {
		return false
	}
	return true
}

func containsStatus(ss []ReservationStatus, s ReservationStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func containsPayment(ss []PaymentStatus, s PaymentStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE
// =============================================================================

// Store is the document-store abstraction the engine runs on.
//
// Lookup methods return (nil, nil) when the record is absent; the engine
// converts that into a NotFoundError where it matters. Update methods are
// atomic per record: the mutation function runs against the current state
// and the write fails with ErrConcurrentModification if the record changed
// underneath (implementations may instead serialize updates, which
// trivially satisfies the contract).
type Store interface {
	// Showings
	SaveShowing(ctx context.Context, s Showing) error
	GetShowing(ctx context.Context, id ShowingID) (*Showing, error)
	ListShowings(ctx context.Context) ([]Showing, error)
	UpdateShowing(ctx context.Context, id ShowingID, fn func(*Showing) error) error

	// Reservations
	CreateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	UpdateReservation(ctx context.Context, id ReservationID, fn func(*Reservation) error) error
	AppendReservationLog(ctx context.Context, id ReservationID, e LogEntry) error

	// DeleteReservation exists solely for audit repair of provably
	// orphaned records. Nothing else in the engine deletes reservations.
	DeleteReservation(ctx context.Context, id ReservationID) error

	// Trust records (one per customer email)
	GetTrustRecord(ctx context.Context, email string) (*TrustRecord, error)
	SaveTrustRecord(ctx context.Context, rec TrustRecord) error
	DeleteTrustRecord(ctx context.Context, email string) error
	CountNoShows(ctx context.Context, email string) (int, error)

	// Vouchers. CreateVoucher fails on an existing code; SaveVoucher
	// overwrites (used for flag changes like payment activation).
	CreateVoucher(ctx context.Context, v Voucher) error
	SaveVoucher(ctx context.Context, v Voucher) error
	GetVoucher(ctx context.Context, code string) (*Voucher, error)
	ListVouchers(ctx context.Context) ([]Voucher, error)

	// DecrementVoucher writes newValue only if the stored remaining value
	// still equals expected; otherwise it returns ErrConcurrentModification.
	DecrementVoucher(ctx context.Context, code string, expected, newValue decimal.Decimal) error
	AppendVoucherUse(ctx context.Context, code string, use VoucherUse) error

	// Capacity overrides
	SaveOverride(ctx context.Context, o CapacityOverride) error
	GetOverride(ctx context.Context, id ShowingID) (*CapacityOverride, error)
	DeleteOverride(ctx context.Context, id ShowingID) error
}

// TxStore extends Store with multi-record transactions.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SMALL SHARED HELPERS
// =============================================================================

// nowFunc resolves an optional injected clock.
func nowFunc(clock func() time.Time) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now()
}
