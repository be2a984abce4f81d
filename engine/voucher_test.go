package engine_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
	memstore "github.com/warp/booking-engine/engine/store"
)

func newLedger(f *fixture) *engine.VoucherLedger {
	return &engine.VoucherLedger{
		Store:  f.store,
		Events: engine.NopPublisher{},
		Clock:  func() time.Time { return f.now },
	}
}

var codePattern = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

func TestIssueGeneratesWellFormedCode(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)

	v, err := vl.Issue(context.Background(), engine.VoucherTemplate{
		Value: decimal.NewFromInt(50), ValidDays: 90,
	}, "gift@example.com")
	require.NoError(t, err)

	require.Regexp(t, codePattern, v.Code)
	require.True(t, v.RemainingValue.Equal(v.InitialValue))
	require.NotNil(t, v.ExpiresAt)
	require.True(t, v.ExpiresAt.Equal(f.now.AddDate(0, 0, 90)))
}

func TestIssueWithoutValidDaysNeverExpires(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)

	v, err := vl.Issue(context.Background(), engine.VoucherTemplate{Value: decimal.NewFromInt(20)}, "")
	require.NoError(t, err)
	require.Nil(t, v.ExpiresAt)
}

func TestIssueRejectsNonPositiveValue(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)

	_, err := vl.Issue(context.Background(), engine.VoucherTemplate{Value: decimal.Zero}, "")
	require.Error(t, err)
}

func TestValidateStates(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)
	ctx := context.Background()

	// not_found
	val, err := vl.Validate(ctx, "NOPE-NOPE-NOPE")
	require.NoError(t, err)
	require.Equal(t, engine.VoucherStateNotFound, val.State)

	// inactive: sold but payment not yet confirmed
	pending, err := vl.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(30), PendingPayment: true,
	}, "shop@example.com")
	require.NoError(t, err)
	val, err = vl.Validate(ctx, pending.Code)
	require.NoError(t, err)
	require.Equal(t, engine.VoucherStateInactive, val.State)

	// activation flips it to valid
	require.NoError(t, vl.Activate(ctx, pending.Code))
	val, err = vl.Validate(ctx, pending.Code)
	require.NoError(t, err)
	require.Equal(t, engine.VoucherStateValid, val.State)

	// expired: derived from the clock, nothing stored
	short, err := vl.Issue(ctx, engine.VoucherTemplate{Value: decimal.NewFromInt(10), ValidDays: 1}, "")
	require.NoError(t, err)
	f.advance(48 * time.Hour)
	val, err = vl.Validate(ctx, short.Code)
	require.NoError(t, err)
	require.Equal(t, engine.VoucherStateExpired, val.State)
}

func TestApplyCapsAtRemainingValue(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)
	ctx := context.Background()

	v, err := vl.Issue(ctx, engine.VoucherTemplate{Value: decimal.NewFromInt(50)}, "")
	require.NoError(t, err)

	// First redemption takes part of the value
	applied, remaining, err := vl.Apply(ctx, v.Code, decimal.NewFromInt(30), "res-1")
	require.NoError(t, err)
	require.True(t, applied.Equal(decimal.NewFromInt(30)))
	require.True(t, remaining.Equal(decimal.NewFromInt(20)))

	// Second asks for more than is left: capped, never negative
	applied, remaining, err = vl.Apply(ctx, v.Code, decimal.NewFromInt(100), "res-2")
	require.NoError(t, err)
	require.True(t, applied.Equal(decimal.NewFromInt(20)))
	require.True(t, remaining.IsZero())

	// Usage history records both redemptions
	got, err := f.store.GetVoucher(ctx, v.Code)
	require.NoError(t, err)
	require.Len(t, got.Usage, 2)
	require.Equal(t, engine.ReservationID("res-1"), got.Usage[0].ReservationID)

	// A drained voucher refuses further applications
	_, _, err = vl.Apply(ctx, v.Code, decimal.NewFromInt(1), "res-3")
	require.ErrorIs(t, err, engine.ErrInsufficientOrInvalid)
}

func TestApplyRejectsUnusableVouchers(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)
	ctx := context.Background()

	_, _, err := vl.Apply(ctx, "NOPE-NOPE-NOPE", decimal.NewFromInt(5), "res-1")
	require.ErrorIs(t, err, engine.ErrInsufficientOrInvalid)

	pending, err := vl.Issue(ctx, engine.VoucherTemplate{
		Value: decimal.NewFromInt(30), PendingPayment: true,
	}, "")
	require.NoError(t, err)
	_, _, err = vl.Apply(ctx, pending.Code, decimal.NewFromInt(5), "res-1")
	require.ErrorIs(t, err, engine.ErrInsufficientOrInvalid)

	_, _, err = vl.Apply(ctx, pending.Code, decimal.Zero, "res-1")
	require.Error(t, err)
}

func TestApplyRetriesOnConcurrentDecrement(t *testing.T) {
	f := newFixture(t)
	vl := newLedger(f)
	ctx := context.Background()

	v, err := vl.Issue(ctx, engine.VoucherTemplate{Value: decimal.NewFromInt(50)}, "")
	require.NoError(t, err)

	// Simulate a racing redemption: the first decrement attempt loses,
	// the retry re-validates against the new remaining value.
	raced := false
	racing := &racingStore{Memory: f.store, onDecrement: func() {
		if !raced {
			raced = true
			_, _, err := vl.Apply(ctx, v.Code, decimal.NewFromInt(10), "res-racer")
			require.NoError(t, err)
		}
	}}
	vlRaced := &engine.VoucherLedger{Store: racing, Events: engine.NopPublisher{},
		Clock: func() time.Time { return f.now }}

	applied, remaining, err := vlRaced.Apply(ctx, v.Code, decimal.NewFromInt(50), "res-1")
	require.NoError(t, err)
	// The racer took 10 first; the retry gets what is actually left.
	require.True(t, applied.Equal(decimal.NewFromInt(40)), "applied %s", applied)
	require.True(t, remaining.IsZero())
}

// racingStore triggers a competing write just before each decrement.
type racingStore struct {
	*memstore.Memory
	onDecrement func()
}

func (r *racingStore) DecrementVoucher(ctx context.Context, code string, expected, newValue decimal.Decimal) error {
	if r.onDecrement != nil {
		r.onDecrement()
	}
	return r.Memory.DecrementVoucher(ctx, code, expected, newValue)
}
