// Package nats consumes enrichment messages from a NATS JetStream subject.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/enrich"
)

// DefaultDrainTimeout bounds how long Run waits for buffered messages to
// be handled after shutdown starts.
const DefaultDrainTimeout = 30 * time.Second

// Config selects the subject and consumer settings. RetryDelay is the base
// of the redelivery backoff requested on Nak; zero redelivers immediately.
type Config struct {
	Subject      string
	QueueGroup   string
	MaxDeliver   int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
}

// Connect dials the server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("metadata-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

type settler interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Consumer is a JetStream queue subscriber. Retries are Nak'd for
// redelivery; failed messages are terminated so the stream stops
// redelivering them.
type Consumer struct {
	js      nats.JetStreamContext
	cfg     Config
	handler enrich.DeliveryHandler
	logger  *zap.Logger
}

// New creates a Consumer.
func New(js nats.JetStreamContext, handler enrich.DeliveryHandler, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{js: js, cfg: cfg, handler: handler, logger: logger}
}

// Run subscribes and blocks until ctx is done, then drains the
// subscription. Messages delivered during the drain are handled on a
// context that outlives ctx until the drain completes or times out.
func (c *Consumer) Run(ctx context.Context) error {
	opts := []nats.SubOpt{nats.ManualAck(), nats.AckExplicit()}
	if c.cfg.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(c.cfg.MaxDeliver))
	}
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	sub, err := c.js.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, func(m *nats.Msg) {
		c.handle(handlerCtx, m.Data, deliveryAttempt(m), m)
	}, opts...)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Subject, err)
	}
	c.logger.Info("nats consumer started",
		zap.String("subject", c.cfg.Subject),
		zap.String("queue_group", c.cfg.QueueGroup),
	)
	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	if !waitDrained(sub, c.drainTimeout()) {
		c.logger.Warn("nats drain timed out", zap.Duration("timeout", c.drainTimeout()))
	}
	return nil
}

func (c *Consumer) drainTimeout() time.Duration {
	if c.cfg.DrainTimeout > 0 {
		return c.cfg.DrainTimeout
	}
	return DefaultDrainTimeout
}

type validity interface {
	IsValid() bool
}

// waitDrained polls until the subscription is closed by the drain.
func waitDrained(sub validity, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, data []byte, attempt int, s settler) {
	outcome := c.handler.HandleDelivery(ctx, data, attempt)
	var err error
	switch outcome {
	case enrich.OutcomeReady, enrich.OutcomeDiscarded:
		err = s.Ack()
	case enrich.OutcomeFailed:
		err = s.Term()
	default:
		if delay := enrich.RetryDelay(c.cfg.RetryDelay, attempt); delay > 0 {
			err = s.NakWithDelay(delay)
		} else {
			err = s.Nak()
		}
	}
	if err != nil {
		c.logger.Warn("settle message failed",
			zap.Int("attempt", attempt),
			zap.Stringer("outcome", outcome),
			zap.Error(err),
		)
	}
}

// deliveryAttempt reads the JetStream delivery count; plain core NATS
// messages carry none and count as a first delivery.
func deliveryAttempt(m *nats.Msg) int {
	meta, err := m.Metadata()
	if err != nil || meta.NumDelivered == 0 {
		return 1
	}
	return int(meta.NumDelivered)
}
