package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
)

func newSweeper(f *fixture) *engine.Sweeper {
	return &engine.Sweeper{Store: f.store, SM: f.sm, Clock: func() time.Time { return f.now }}
}

func TestSweepCancelsExpiredOptions(t *testing.T) {
	f := newFixture(t)
	sw := newSweeper(f)
	f.addShowing(t, "show-1", 72*time.Hour, 20)

	// GIVEN three option holds: expired, live, and a confirmed one
	expired := f.createOption(t, "show-1", "late@example.com", 3, time.Hour)
	live := f.createOption(t, "show-1", "ontime@example.com", 2, 48*time.Hour)
	former := f.createOption(t, "show-1", "decided@example.com", 2, time.Hour)
	f.confirm(t, former.ID)
	require.Equal(t, 13, f.remaining(t, "show-1"))

	// WHEN the clock passes the first expiry and the sweep runs
	f.advance(2 * time.Hour)
	rep, err := sw.SweepExpiredOptions(context.Background())
	require.NoError(t, err)

	// THEN only the expired hold is cancelled and its seats return
	require.Equal(t, 2, rep.Evaluated)
	require.Equal(t, 1, rep.Applied)
	require.Equal(t, 0, rep.Failed)
	require.Len(t, rep.Records, 1)
	require.Equal(t, expired.ID, rep.Records[0].ReservationID)

	got, err := f.store.GetReservation(context.Background(), expired.ID)
	require.NoError(t, err)
	require.Equal(t, engine.StatusCancelled, got.Status)
	require.Contains(t, got.Log[len(got.Log)-1].Message, "option expired")

	untouched, err := f.store.GetReservation(context.Background(), live.ID)
	require.NoError(t, err)
	require.Equal(t, engine.StatusOption, untouched.Status)

	require.Equal(t, 16, f.remaining(t, "show-1"))
}

func TestSweepExpiredOptionsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sw := newSweeper(f)
	f.addShowing(t, "show-1", 72*time.Hour, 20)
	f.createOption(t, "show-1", "late@example.com", 3, time.Hour)

	f.advance(2 * time.Hour)
	rep, err := sw.SweepExpiredOptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Applied)

	// Second run finds nothing: the hold is already cancelled.
	rep, err = sw.SweepExpiredOptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, rep.Evaluated)
	require.Equal(t, 0, rep.Applied)
}

func TestSweepMarksOverduePayments(t *testing.T) {
	f := newFixture(t)
	sw := newSweeper(f)
	// Showing is soon, so confirmation clamps the due date to "now".
	f.addShowing(t, "show-1", 24*time.Hour, 20)

	late := f.create(t, "show-1", "late@example.com", 2)
	f.confirm(t, late.ID)

	paid := f.create(t, "show-1", "prompt@example.com", 2)
	f.confirm(t, paid.ID)
	_, err := f.sm.SetPaymentStatus(context.Background(), paid.ID, engine.PaymentPaid, "box-office")
	require.NoError(t, err)

	// WHEN the due date passes
	f.advance(26 * time.Hour)
	rep, err := sw.SweepOverduePayments(context.Background())
	require.NoError(t, err)

	// THEN only the unpaid one is flagged
	require.Equal(t, 1, rep.Applied)
	got, err := f.store.GetReservation(context.Background(), late.ID)
	require.NoError(t, err)
	require.Equal(t, engine.PaymentOverdue, got.PaymentStatus)
	require.Equal(t, engine.StatusConfirmed, got.Status) // status untouched

	settled, err := f.store.GetReservation(context.Background(), paid.ID)
	require.NoError(t, err)
	require.Equal(t, engine.PaymentPaid, settled.PaymentStatus)
}

func TestSweepSkipsFuturePaymentDueDates(t *testing.T) {
	f := newFixture(t)
	sw := newSweeper(f)
	f.addShowing(t, "show-1", 60*24*time.Hour, 20)

	res := f.create(t, "show-1", "early@example.com", 2)
	f.confirm(t, res.ID)

	rep, err := sw.SweepOverduePayments(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Evaluated)
	require.Equal(t, 0, rep.Applied)
}

func TestBackfillPaymentDueDates(t *testing.T) {
	f := newFixture(t)
	sw := newSweeper(f)
	f.addShowing(t, "show-future", 30*24*time.Hour, 20)
	f.addShowing(t, "show-past", 48*time.Hour, 20)

	// Confirmed booking stripped of its due date (migrated data).
	missing := f.create(t, "show-future", "legacy@example.com", 2)
	f.confirm(t, missing.ID)
	require.NoError(t, f.store.UpdateReservation(context.Background(), missing.ID, func(r *engine.Reservation) error {
		r.PaymentDueAt = nil
		return nil
	}))

	// Confirmed booking with an existing due date: must not be overwritten.
	existing := f.create(t, "show-future", "normal@example.com", 2)
	confirmed := f.confirm(t, existing.ID)
	originalDue := *confirmed.PaymentDueAt

	// Confirmed booking whose showing has already passed: left alone.
	stale := f.create(t, "show-past", "gone@example.com", 2)
	f.confirm(t, stale.ID)
	require.NoError(t, f.store.UpdateReservation(context.Background(), stale.ID, func(r *engine.Reservation) error {
		r.PaymentDueAt = nil
		return nil
	}))
	f.advance(72 * time.Hour) // show-past is now over

	rep, err := sw.BackfillPaymentDueDates(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Applied)

	got, err := f.store.GetReservation(context.Background(), missing.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaymentDueAt)
	sh, _ := f.store.GetShowing(context.Background(), "show-future")
	require.True(t, got.PaymentDueAt.Equal(sh.StartsAt.AddDate(0, 0, -7)))

	kept, err := f.store.GetReservation(context.Background(), existing.ID)
	require.NoError(t, err)
	require.True(t, kept.PaymentDueAt.Equal(originalDue))

	skipped, err := f.store.GetReservation(context.Background(), stale.ID)
	require.NoError(t, err)
	require.Nil(t, skipped.PaymentDueAt)
}
