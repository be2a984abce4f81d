/*
events.go - Domain events emitted by mutating operations

PURPOSE:
  Every successful mutating operation emits a domain event so the
  notification layer (email, SMS, dashboards) can react. The engine does
  not know about delivery: publish failures are logged and discarded,
  never propagated into the transition that triggered them, and events
  are emitted only after the transition has committed.

SEE ALSO:
  - events/amqp: RabbitMQ-backed Publisher
  - cache: updates the availability read model from CapacityChanged
*/
package engine

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Event is a domain event. Concrete types carry the payload.
type Event interface {
	EventName() string
}

// ReservationStatusChanged is emitted on every state machine transition,
// including creation (From is empty on creation).
type ReservationStatusChanged struct {
	ReservationID ReservationID     `json:"reservation_id"`
	ShowingID     ShowingID         `json:"showing_id"`
	Email         string            `json:"email"`
	From          ReservationStatus `json:"from"`
	To            ReservationStatus `json:"to"`
	Actor         string            `json:"actor"`
	At            time.Time         `json:"at"`
}

func (ReservationStatusChanged) EventName() string { return "reservation.status_changed" }

// CapacityChanged is emitted whenever a showing's stored remaining
// capacity moves (transition side effects, overrides, audit fixes).
type CapacityChanged struct {
	ShowingID ShowingID `json:"showing_id"`
	Capacity  int       `json:"capacity"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

func (CapacityChanged) EventName() string { return "showing.capacity_changed" }

// CustomerBlocked is emitted when the no-show threshold is crossed.
type CustomerBlocked struct {
	Email       string    `json:"email"`
	Reason      string    `json:"reason"`
	NoShowCount int       `json:"no_show_count"`
	At          time.Time `json:"at"`
}

func (CustomerBlocked) EventName() string { return "customer.blocked" }

// CustomerUnblocked is emitted on manual unblock, auto-unblock after the
// retention window, and unblock via no-show reversal.
type CustomerUnblocked struct {
	Email string    `json:"email"`
	Actor string    `json:"actor"`
	Auto  bool      `json:"auto"`
	At    time.Time `json:"at"`
}

func (CustomerUnblocked) EventName() string { return "customer.unblocked" }

// VoucherRedeemed is emitted after a successful balance decrement.
type VoucherRedeemed struct {
	Code          string          `json:"code"`
	ReservationID ReservationID   `json:"reservation_id"`
	Applied       decimal.Decimal `json:"applied"`
	Remaining     decimal.Decimal `json:"remaining"`
	At            time.Time       `json:"at"`
}

func (VoucherRedeemed) EventName() string { return "voucher.redeemed" }

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher delivers events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// LogPublisher writes events to the process log. Default when no broker
// is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Printf("[Events] %s: %+v", e.EventName(), e)
	return nil
}

// NopPublisher discards events. Used in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MultiPublisher fans an event out to several publishers. Each publisher
// gets the event even if an earlier one failed.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// publish is the engine-internal emit point: failures are logged, never
// returned, so a notification outage cannot roll back a transition.
func publish(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Printf("[Events] publish %s failed: %v", e.EventName(), err)
	}
}
