/*
sweep.go - Idempotent batch processes over time-based conditions

PURPOSE:
  Two sweepers and one backfill:
  - SweepExpiredOptions: option holds past expiry -> cancelled
  - SweepOverduePayments: confirmed, payment pending, due date passed -> overdue
  - BackfillPaymentDueDates: fills missing due dates for upcoming showings

SAFETY:
  Each sweep is safe to run repeatedly and concurrently with itself and
  with manual transitions: every candidate is re-read and re-checked at
  transition time, and a per-record failure (including a lost CAS race)
  is recorded in the report instead of aborting the batch. There is no
  "in progress" lock; a partially completed sweep is resumed by simply
  re-running it.

SEE ALSO:
  - api/scheduler.go: periodic invocation
  - statemachine.go: the transition each expiry funnels through
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// REPORTS
// =============================================================================

// SweepRecord is the per-record detail line of a sweep report. Err is
// set when the record was matched but could not be transitioned.
type SweepRecord struct {
	ReservationID ReservationID
	ShowingID     ShowingID
	Email         string
	PartySize     int
	Deadline      time.Time // the expiry or due date that matched
	Err           string
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	RanAt     time.Time
	Evaluated int // candidates inspected
	Applied   int // records transitioned
	Failed    int
	Records   []SweepRecord
}

// =============================================================================
// SWEEPER
// =============================================================================

type Sweeper struct {
	Store TxStore
	SM    *StateMachine
	Clock func() time.Time
}

func (sw *Sweeper) now() time.Time { return nowFunc(sw.Clock) }

// SweepExpiredOptions cancels option holds whose expiry has passed.
// Options without an expiry or not yet expired are never touched.
func (sw *Sweeper) SweepExpiredOptions(ctx context.Context) (*SweepReport, error) {
	now := sw.now()
	report := &SweepReport{RanAt: now}

	options, err := sw.Store.ListReservations(ctx, ReservationFilter{
		Statuses: []ReservationStatus{StatusOption},
	})
	if err != nil {
		return nil, err
	}

	for _, r := range options {
		if r.OptionExpiresAt == nil {
			continue
		}
		report.Evaluated++
		if !r.OptionExpiresAt.Before(now) {
			continue
		}

		rec := SweepRecord{
			ReservationID: r.ID,
			ShowingID:     r.ShowingID,
			Email:         r.Email,
			PartySize:     r.PartySize,
			Deadline:      *r.OptionExpiresAt,
		}
		reason := fmt.Sprintf("option expired %s, cancelled automatically",
			r.OptionExpiresAt.Format(time.RFC3339))
		_, err := sw.SM.Transition(ctx, r.ID, StatusCancelled, SystemActor, TransitionOptions{Reason: reason})
		if err != nil {
			// The record may have been transitioned by a concurrent run
			// or a manual edit between listing and here; record and move on.
			rec.Err = err.Error()
			report.Failed++
		} else {
			report.Applied++
		}
		report.Records = append(report.Records, rec)
	}
	return report, nil
}

// SweepOverduePayments marks confirmed reservations with a pending
// payment past its due date as overdue. Payment status is a sub-state
// orthogonal to the reservation status machine, so this writes directly
// rather than going through Transition.
func (sw *Sweeper) SweepOverduePayments(ctx context.Context) (*SweepReport, error) {
	now := sw.now()
	report := &SweepReport{RanAt: now}

	confirmed, err := sw.Store.ListReservations(ctx, ReservationFilter{
		Statuses:        []ReservationStatus{StatusConfirmed},
		PaymentStatuses: []PaymentStatus{PaymentPending},
	})
	if err != nil {
		return nil, err
	}

	for _, r := range confirmed {
		if r.PaymentDueAt == nil {
			continue
		}
		report.Evaluated++
		if !r.PaymentDueAt.Before(now) {
			continue
		}

		rec := SweepRecord{
			ReservationID: r.ID,
			ShowingID:     r.ShowingID,
			Email:         r.Email,
			PartySize:     r.PartySize,
			Deadline:      *r.PaymentDueAt,
		}
		daysOverdue := int(now.Sub(*r.PaymentDueAt).Hours() / 24)
		err := sw.Store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			// Re-check at write time: a concurrent sweep or manual payment
			// may already have moved the sub-state.
			if cur == nil || cur.Status != StatusConfirmed || cur.PaymentStatus != PaymentPending {
				return ErrConcurrentModification
			}
			if err := s.UpdateReservation(ctx, r.ID, func(u *Reservation) error {
				u.PaymentStatus = PaymentOverdue
				u.UpdatedAt = now
				return nil
			}); err != nil {
				return err
			}
			entry := LogEntry{At: now, Actor: SystemActor,
				Message: fmt.Sprintf("payment overdue: due %s (%d days overdue)",
					r.PaymentDueAt.Format("2006-01-02"), daysOverdue)}
			return s.AppendReservationLog(ctx, r.ID, entry)
		})
		if err != nil {
			rec.Err = err.Error()
			report.Failed++
		} else {
			report.Applied++
		}
		report.Records = append(report.Records, rec)
	}
	return report, nil
}

// BackfillPaymentDueDates fills in missing payment due dates for
// confirmed reservations with pending payment whose showing is still
// upcoming. Existing due dates are never overwritten, and reservations
// whose showing has already passed are left alone.
func (sw *Sweeper) BackfillPaymentDueDates(ctx context.Context, leadDays int) (*SweepReport, error) {
	if leadDays <= 0 {
		leadDays = DefaultPaymentLeadDays
	}
	now := sw.now()
	report := &SweepReport{RanAt: now}

	candidates, err := sw.Store.ListReservations(ctx, ReservationFilter{
		Statuses:        []ReservationStatus{StatusConfirmed},
		PaymentStatuses: []PaymentStatus{PaymentPending},
	})
	if err != nil {
		return nil, err
	}

	for _, r := range candidates {
		if r.PaymentDueAt != nil {
			continue
		}
		report.Evaluated++

		sh, err := sw.Store.GetShowing(ctx, r.ShowingID)
		if err != nil {
			return nil, err
		}
		rec := SweepRecord{
			ReservationID: r.ID,
			ShowingID:     r.ShowingID,
			Email:         r.Email,
			PartySize:     r.PartySize,
		}
		if sh == nil {
			rec.Err = "showing not found"
			report.Failed++
			report.Records = append(report.Records, rec)
			continue
		}
		if !sh.StartsAt.After(now) {
			continue // showing already passed
		}

		due := paymentDue(sh.StartsAt, leadDays, now)
		rec.Deadline = due
		err = sw.Store.WithTx(ctx, func(s Store) error {
			if err := s.UpdateReservation(ctx, r.ID, func(u *Reservation) error {
				if u.PaymentDueAt != nil {
					return ErrConcurrentModification
				}
				u.PaymentDueAt = &due
				u.UpdatedAt = now
				return nil
			}); err != nil {
				return err
			}
			entry := LogEntry{At: now, Actor: SystemActor,
				Message: fmt.Sprintf("payment due date set to %s (%d days before showing)",
					due.Format("2006-01-02"), leadDays)}
			return s.AppendReservationLog(ctx, r.ID, entry)
		})
		if err != nil {
			rec.Err = err.Error()
			report.Failed++
		} else {
			report.Applied++
		}
		report.Records = append(report.Records, rec)
	}
	return report, nil
}
