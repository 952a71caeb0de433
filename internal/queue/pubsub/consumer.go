// Package pubsub consumes enrichment messages from a Google Cloud Pub/Sub
// subscription.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/enrich"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// acker is the settlement half of a Pub/Sub message.
type acker interface {
	Ack()
	Nack()
}

// Consumer receives messages from one subscription and settles each one
// according to the handler's outcome. Failed messages are nacked so the
// subscription's dead-letter policy can take over.
type Consumer struct {
	sub     receiver
	handler enrich.DeliveryHandler
	logger  *zap.Logger
}

// New creates a Consumer for the subscriber.
func New(sub *pubsub.Subscriber, handler enrich.DeliveryHandler, logger *zap.Logger) *Consumer {
	return newConsumer(sub, handler, logger)
}

func newConsumer(sub receiver, handler enrich.DeliveryHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{sub: sub, handler: handler, logger: logger}
}

// Run blocks receiving messages until ctx is done or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		c.handle(ctx, m.ID, m.Data, deliveryAttempt(m), m)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, id string, data []byte, attempt int, a acker) {
	outcome := c.handler.HandleDelivery(ctx, data, attempt)
	if outcome.Acknowledge() {
		a.Ack()
		return
	}
	c.logger.Debug("nacking message",
		zap.String("message_id", id),
		zap.Int("attempt", attempt),
		zap.Stringer("outcome", outcome),
	)
	a.Nack()
}

// deliveryAttempt is only populated when the subscription has a dead-letter
// policy; without one every delivery counts as the first.
func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt == nil {
		return 1
	}
	return *m.DeliveryAttempt
}
