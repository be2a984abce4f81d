package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
)

func seedReservation(t *testing.T, m *Memory, id string) engine.Reservation {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	r := engine.Reservation{
		ID: engine.ReservationID(id), ShowingID: "show-1", Email: "a@example.com",
		PartySize: 2, Status: engine.StatusPending, PaymentStatus: engine.PaymentPending,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, m.CreateReservation(context.Background(), r))
	return r
}

func TestMemoryGetAbsentReturnsNil(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sh, err := m.GetShowing(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, sh)

	r, err := m.GetReservation(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, r)

	v, err := m.GetVoucher(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMemoryUpdateReservationBumpsVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedReservation(t, m, "res-1")

	require.NoError(t, m.UpdateReservation(ctx, "res-1", func(r *engine.Reservation) error {
		r.Status = engine.StatusConfirmed
		return nil
	}))

	got, err := m.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, engine.StatusConfirmed, got.Status)
	require.Equal(t, 2, got.Version)
}

func TestMemoryUpdateRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedReservation(t, m, "res-1")

	boom := errors.New("boom")
	err := m.UpdateReservation(ctx, "res-1", func(r *engine.Reservation) error {
		r.Status = engine.StatusConfirmed
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, engine.StatusPending, got.Status)
	require.Equal(t, 1, got.Version)
}

func TestMemoryCreateDuplicateReservation(t *testing.T) {
	m := NewMemory()
	r := seedReservation(t, m, "res-1")
	err := m.CreateReservation(context.Background(), r)
	require.ErrorIs(t, err, engine.ErrConcurrentModification)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedReservation(t, m, "res-1")
	require.NoError(t, m.AppendReservationLog(ctx, "res-1", engine.LogEntry{
		At: time.Now(), Actor: "test", Message: "created",
	}))

	// Mutating a returned value must not leak into the store.
	got, err := m.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	got.Status = engine.StatusCancelled
	got.Log[0].Message = "tampered"

	fresh, err := m.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, engine.StatusPending, fresh.Status)
	require.Equal(t, "created", fresh.Log[0].Message)
}

func TestMemoryListReservationsFiltersAndOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	emails := []string{"a@example.com", "b@example.com", "a@example.com"}
	statuses := []engine.ReservationStatus{engine.StatusPending, engine.StatusConfirmed, engine.StatusCancelled}
	for i := range emails {
		require.NoError(t, m.CreateReservation(ctx, engine.Reservation{
			ID: engine.ReservationID(string(rune('a'+i))), ShowingID: "show-1",
			Email: emails[i], PartySize: 1, Status: statuses[i],
			PaymentStatus: engine.PaymentPending, Version: 1,
			CreatedAt: base.Add(time.Duration(len(emails)-i) * time.Minute),
			UpdatedAt: base,
		}))
	}

	all, err := m.ListReservations(ctx, engine.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Ordered by creation time.
	require.True(t, all[0].CreatedAt.Before(all[1].CreatedAt))
	require.True(t, all[1].CreatedAt.Before(all[2].CreatedAt))

	email := "a@example.com"
	byEmail, err := m.ListReservations(ctx, engine.ReservationFilter{Email: &email})
	require.NoError(t, err)
	require.Len(t, byEmail, 2)

	byStatus, err := m.ListReservations(ctx, engine.ReservationFilter{
		Statuses: []engine.ReservationStatus{engine.StatusConfirmed},
	})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "b@example.com", byStatus[0].Email)
}

func TestMemoryDecrementVoucherCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateVoucher(ctx, engine.Voucher{
		Code: "AAAA-BBBB-CCCC", InitialValue: decimal.NewFromInt(50),
		RemainingValue: decimal.NewFromInt(50), CreatedAt: time.Now(),
	}))

	// Matching expectation succeeds.
	require.NoError(t, m.DecrementVoucher(ctx, "AAAA-BBBB-CCCC",
		decimal.NewFromInt(50), decimal.NewFromInt(30)))

	// Stale expectation is rejected.
	err := m.DecrementVoucher(ctx, "AAAA-BBBB-CCCC",
		decimal.NewFromInt(50), decimal.NewFromInt(10))
	require.ErrorIs(t, err, engine.ErrConcurrentModification)

	v, err := m.GetVoucher(ctx, "AAAA-BBBB-CCCC")
	require.NoError(t, err)
	require.True(t, v.RemainingValue.Equal(decimal.NewFromInt(30)))
}

func TestMemoryWithTxRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveShowing(ctx, engine.Showing{
		ID: "show-1", Name: "One", Capacity: 10, Remaining: 10,
		StartsAt: time.Now(), CreatedAt: time.Now(),
	}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s engine.Store) error {
		if err := s.UpdateShowing(ctx, "show-1", func(sh *engine.Showing) error {
			sh.Remaining = 0
			return nil
		}); err != nil {
			return err
		}
		if err := s.SaveShowing(ctx, engine.Showing{ID: "show-2", Capacity: 5, Remaining: 5}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	sh, err := m.GetShowing(ctx, "show-1")
	require.NoError(t, err)
	require.Equal(t, 10, sh.Remaining)

	sh2, err := m.GetShowing(ctx, "show-2")
	require.NoError(t, err)
	require.Nil(t, sh2)
}

func TestMemoryWithTxCommits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveShowing(ctx, engine.Showing{
		ID: "show-1", Capacity: 10, Remaining: 10, StartsAt: time.Now(), CreatedAt: time.Now(),
	}))

	require.NoError(t, m.WithTx(ctx, func(s engine.Store) error {
		return s.UpdateShowing(ctx, "show-1", func(sh *engine.Showing) error {
			sh.Remaining = 4
			return nil
		})
	}))

	sh, err := m.GetShowing(ctx, "show-1")
	require.NoError(t, err)
	require.Equal(t, 4, sh.Remaining)
}

func TestMemoryCountNoShows(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	for i, status := range []engine.ReservationStatus{
		engine.StatusNoShow, engine.StatusNoShow, engine.StatusConfirmed,
	} {
		require.NoError(t, m.CreateReservation(ctx, engine.Reservation{
			ID: engine.ReservationID(string(rune('a' + i))), ShowingID: "show-1",
			Email: "x@example.com", PartySize: 1, Status: status,
			PaymentStatus: engine.PaymentPending, Version: 1, CreatedAt: now, UpdatedAt: now,
		}))
	}

	n, err := m.CountNoShows(ctx, "x@example.com")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = m.CountNoShows(ctx, "other@example.com")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedReservation(t, m, "res-1")
	require.NoError(t, m.SaveTrustRecord(ctx, engine.TrustRecord{Email: "x@example.com", BlockedAt: time.Now()}))

	require.NoError(t, m.Reset(ctx))

	list, err := m.ListReservations(ctx, engine.ReservationFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	rec, err := m.GetTrustRecord(ctx, "x@example.com")
	require.NoError(t, err)
	require.Nil(t, rec)
}
