package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
	memstore "github.com/warp/booking-engine/engine/store"
)

// fixture bundles the engine components over a fresh in-memory store
// with a controllable clock.
type fixture struct {
	store *memstore.Memory
	sm    *engine.StateMachine
	trust *engine.TrustEngine
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.NewMemory(),
		now:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.sm = &engine.StateMachine{Store: f.store, Events: engine.NopPublisher{}, Clock: clock}
	f.trust = &engine.TrustEngine{Store: f.store, SM: f.sm, Events: engine.NopPublisher{}, Clock: clock}
	f.sm.Gate = f.trust
	return f
}

// advance moves the fixture clock forward.
func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) addShowing(t *testing.T, id string, startsIn time.Duration, capacity int) {
	t.Helper()
	require.NoError(t, f.store.SaveShowing(context.Background(), engine.Showing{
		ID:        engine.ShowingID(id),
		Name:      "Showing " + id,
		StartsAt:  f.now.Add(startsIn),
		Capacity:  capacity,
		Remaining: capacity,
		CreatedAt: f.now,
	}))
}

func (f *fixture) create(t *testing.T, showing, email string, party int) *engine.Reservation {
	t.Helper()
	res, err := f.sm.Create(context.Background(), engine.CreateParams{
		ShowingID: engine.ShowingID(showing), Email: email, PartySize: party,
		InitialStatus: engine.StatusPending, Actor: "test",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) createOption(t *testing.T, showing, email string, party int, expiresIn time.Duration) *engine.Reservation {
	t.Helper()
	exp := f.now.Add(expiresIn)
	res, err := f.sm.Create(context.Background(), engine.CreateParams{
		ShowingID: engine.ShowingID(showing), Email: email, PartySize: party,
		InitialStatus: engine.StatusOption, OptionExpiresAt: &exp, Actor: "test",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) confirm(t *testing.T, id engine.ReservationID) *engine.Reservation {
	t.Helper()
	res, err := f.sm.Transition(context.Background(), id, engine.StatusConfirmed, "test", engine.TransitionOptions{})
	require.NoError(t, err)
	return res
}

func (f *fixture) remaining(t *testing.T, id string) int {
	t.Helper()
	sh, err := f.store.GetShowing(context.Background(), engine.ShowingID(id))
	require.NoError(t, err)
	require.NotNil(t, sh)
	return sh.Remaining
}
