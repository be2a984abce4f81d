// Package cache maintains a Redis read model of per-showing remaining
// capacity. The booking pages poll availability far more often than it
// changes, so reads are served from Redis and the engine refreshes the
// key whenever it emits CapacityChanged. The store remains the source
// of truth; a cache miss falls through to it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/booking-engine/engine"
)

const keyPrefix = "availability:"

// defaultTTL bounds staleness if an invalidation is ever lost.
const defaultTTL = 10 * time.Minute

// Entry is the cached availability snapshot for one showing.
type Entry struct {
	ShowingID engine.ShowingID `json:"showing_id"`
	Capacity  int              `json:"capacity"`
	Remaining int              `json:"remaining"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Availability is the Redis-backed read model.
type Availability struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New wraps a Redis client. A zero ttl uses the default.
func New(client redis.Cmdable, ttl time.Duration) *Availability {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Availability{client: client, ttl: ttl}
}

func key(id engine.ShowingID) string {
	return keyPrefix + string(id)
}

// Get returns the cached entry, or (nil, nil) on a miss.
func (a *Availability) Get(ctx context.Context, id engine.ShowingID) (*Entry, error) {
	raw, err := a.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("availability cache get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("availability cache decode: %w", err)
	}
	return &e, nil
}

// Set stores the entry under the showing's key.
func (a *Availability) Set(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := a.client.Set(ctx, key(e.ShowingID), raw, a.ttl).Err(); err != nil {
		return fmt.Errorf("availability cache set: %w", err)
	}
	return nil
}

// Invalidate drops the key for one showing.
func (a *Availability) Invalidate(ctx context.Context, id engine.ShowingID) error {
	if err := a.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("availability cache invalidate: %w", err)
	}
	return nil
}

// EventHook returns a publisher that refreshes the cache from
// CapacityChanged events. Wire it into the engine's event fan-out; all
// other events pass through untouched.
func (a *Availability) EventHook() engine.Publisher {
	return engine.PublisherFunc(func(ctx context.Context, e engine.Event) error {
		cc, ok := e.(engine.CapacityChanged)
		if !ok {
			return nil
		}
		return a.Set(ctx, Entry{
			ShowingID: cc.ShowingID,
			Capacity:  cc.Capacity,
			Remaining: cc.Remaining,
			UpdatedAt: cc.At,
		})
	})
}
