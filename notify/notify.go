/*
Package notify carries messages out of the engine.

PURPOSE:
  Two halves: the Dispatcher contract (how messages leave - delivery is
  fire-and-forget, the core assumes no retry from the transport), and a
  persistent reminder outbox that turns "schedule a pre-start reminder"
  into an explicit task with at-least-once delivery and a
  (bookingID, kind) dedup key instead of an inline side effect.

RECIPIENT CLASSES:
  Closed set: a single resident, the board/ops-admin group, or all
  residents of a building.

SEE ALSO:
  - outbox.go: Task queue + background worker
  - amqp.go: Production Dispatcher over RabbitMQ
  - booking/manager.go: Enqueues reminders on create; enqueue failure
    never rolls back the booking
*/
package notify

import "context"

// =============================================================================
// RECIPIENT CLASSES
// =============================================================================

type RecipientClass string

const (
	// RecipientResident targets one resident; the payload carries the
	// requester id under "requester_id".
	RecipientResident RecipientClass = "resident"

	// RecipientOpsAdmin targets the board/operations-admin group.
	RecipientOpsAdmin RecipientClass = "ops_admin"

	// RecipientAllResidents broadcasts to every resident of a building.
	RecipientAllResidents RecipientClass = "all_residents"
)

// =============================================================================
// DISPATCHER - Outbound delivery contract
// =============================================================================

// Dispatcher delivers a message to a recipient class. Fire-and-forget:
// a nil return acknowledges acceptance, not delivery, and the core never
// retries through this interface directly (the outbox worker does).
type Dispatcher interface {
	Send(ctx context.Context, recipient RecipientClass, title, body string, payload map[string]string) error
}

// =============================================================================
// NOOP / FUNC DISPATCHERS
// =============================================================================

// Noop discards all messages.
type Noop struct{}

func (Noop) Send(context.Context, RecipientClass, string, string, map[string]string) error {
	return nil
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, recipient RecipientClass, title, body string, payload map[string]string) error

func (f Func) Send(ctx context.Context, recipient RecipientClass, title, body string, payload map[string]string) error {
	return f(ctx, recipient, title, body, payload)
}
