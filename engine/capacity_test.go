package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
)

func newCapacityLedger(f *fixture) *engine.CapacityLedger {
	return engine.NewCapacityLedger(f.store, engine.NopPublisher{})
}

func TestComputeRemainingCountsOnlyActiveStatuses(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	ctx := context.Background()

	// Held: pending (3) + confirmed (2) + option (4)
	f.create(t, "show-1", "a@example.com", 3)
	confirmed := f.create(t, "show-1", "b@example.com", 2)
	f.confirm(t, confirmed.ID)
	f.createOption(t, "show-1", "c@example.com", 4, time.Hour)

	// Released: cancelled
	gone := f.create(t, "show-1", "d@example.com", 5)
	_, err := f.sm.Transition(ctx, gone.ID, engine.StatusCancelled, "test", engine.TransitionOptions{})
	require.NoError(t, err)

	got, err := cl.ComputeRemaining(ctx, "show-1")
	require.NoError(t, err)
	require.Equal(t, 11, got)
	// The stored counter agrees after engine-mediated transitions.
	require.Equal(t, 11, f.remaining(t, "show-1"))
}

func TestApplyOverridePreservesConsumedSeats(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	f.create(t, "show-1", "a@example.com", 5)
	ctx := context.Background()

	o, err := cl.ApplyOverride(ctx, "show-1", 12, "balcony closed")
	require.NoError(t, err)
	require.Equal(t, 20, o.OriginalCapacity)
	require.Equal(t, 12, o.OverrideCapacity)
	require.True(t, o.Enabled)

	sh, err := f.store.GetShowing(ctx, "show-1")
	require.NoError(t, err)
	require.Equal(t, 12, sh.Capacity)
	require.Equal(t, 7, sh.Remaining) // 12 - 5 consumed
}

func TestReapplyOverrideKeepsFirstOriginal(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	ctx := context.Background()

	_, err := cl.ApplyOverride(ctx, "show-1", 12, "balcony closed")
	require.NoError(t, err)

	// Re-applying over the override still remembers the true original.
	o, err := cl.ApplyOverride(ctx, "show-1", 8, "stage extended")
	require.NoError(t, err)
	require.Equal(t, 20, o.OriginalCapacity)
	require.Equal(t, 8, o.OverrideCapacity)
}

func TestToggleOverrideSwapsCapacity(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	f.create(t, "show-1", "a@example.com", 5)
	ctx := context.Background()

	_, err := cl.ApplyOverride(ctx, "show-1", 12, "balcony closed")
	require.NoError(t, err)

	// Disable: original capacity comes back, consumed seats intact.
	o, err := cl.ToggleOverride(ctx, "show-1", false)
	require.NoError(t, err)
	require.False(t, o.Enabled)
	require.Equal(t, 15, f.remaining(t, "show-1"))

	// Toggling to the same state is a no-op.
	o, err = cl.ToggleOverride(ctx, "show-1", false)
	require.NoError(t, err)
	require.False(t, o.Enabled)
	require.Equal(t, 15, f.remaining(t, "show-1"))

	// Re-enable restores the override value.
	o, err = cl.ToggleOverride(ctx, "show-1", true)
	require.NoError(t, err)
	require.True(t, o.Enabled)
	require.Equal(t, 7, f.remaining(t, "show-1"))
}

func TestToggleOverrideWithoutOverride(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)

	_, err := cl.ToggleOverride(context.Background(), "show-1", true)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestClearOverrideRestoresOriginal(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	f.create(t, "show-1", "a@example.com", 5)
	ctx := context.Background()

	_, err := cl.ApplyOverride(ctx, "show-1", 12, "balcony closed")
	require.NoError(t, err)

	require.NoError(t, cl.ClearOverride(ctx, "show-1"))
	sh, err := f.store.GetShowing(ctx, "show-1")
	require.NoError(t, err)
	require.Equal(t, 20, sh.Capacity)
	require.Equal(t, 15, sh.Remaining)

	o, err := f.store.GetOverride(ctx, "show-1")
	require.NoError(t, err)
	require.Nil(t, o)

	// Clearing again is a no-op.
	require.NoError(t, cl.ClearOverride(ctx, "show-1"))
}

func TestOverrideCanShrinkBelowConsumed(t *testing.T) {
	f := newFixture(t)
	cl := newCapacityLedger(f)
	f.addShowing(t, "show-1", 48*time.Hour, 20)
	f.create(t, "show-1", "a@example.com", 8)
	ctx := context.Background()

	// Shrinking under the already-sold seats leaves remaining negative;
	// existing bookings are never cancelled by an override.
	_, err := cl.ApplyOverride(ctx, "show-1", 5, "fire marshal ruling")
	require.NoError(t, err)
	require.Equal(t, -3, f.remaining(t, "show-1"))

	// New bookings are refused while overbooked.
	_, err = f.sm.Create(ctx, engine.CreateParams{
		ShowingID: "show-1", Email: "b@example.com", PartySize: 1,
		InitialStatus: engine.StatusPending, Actor: "web",
	})
	require.ErrorIs(t, err, engine.ErrCapacityExceeded)
}
