package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
)

func TestAvailabilityRoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	av := New(client, time.Minute)
	ctx := context.Background()

	entry := Entry{
		ShowingID: "show-1",
		Capacity:  40,
		Remaining: 12,
		UpdatedAt: time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	// GIVEN the set succeeds
	mock.ExpectSet("availability:show-1", raw, time.Minute).SetVal("OK")
	require.NoError(t, av.Set(ctx, entry))

	// WHEN the key is read back
	mock.ExpectGet("availability:show-1").SetVal(string(raw))
	got, err := av.Get(ctx, "show-1")

	// THEN the entry round-trips
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, entry, *got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityMissReturnsNil(t *testing.T) {
	client, mock := redismock.NewClientMock()
	av := New(client, 0)

	mock.ExpectGet("availability:show-9").RedisNil()

	got, err := av.Get(context.Background(), "show-9")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityInvalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	av := New(client, 0)

	mock.ExpectDel("availability:show-2").SetVal(1)
	require.NoError(t, av.Invalidate(context.Background(), "show-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventHookRefreshesOnCapacityChanged(t *testing.T) {
	client, mock := redismock.NewClientMock()
	av := New(client, time.Minute)
	hook := av.EventHook()
	ctx := context.Background()

	at := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(Entry{ShowingID: "show-3", Capacity: 40, Remaining: 38, UpdatedAt: at})
	require.NoError(t, err)
	mock.ExpectSet("availability:show-3", raw, time.Minute).SetVal("OK")

	// A capacity event refreshes the key
	err = hook.Publish(ctx, engine.CapacityChanged{
		ShowingID: "show-3", Capacity: 40, Remaining: 38, At: at,
	})
	require.NoError(t, err)

	// Unrelated events touch nothing
	err = hook.Publish(ctx, engine.CustomerBlocked{Email: "a@b.c", At: at})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
