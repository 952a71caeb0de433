package pubsub

import (
	"context"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/enrich"
)

func TestHandleSettlesByOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome  enrich.Outcome
		wantAck  bool
		wantNack bool
	}{
		{outcome: enrich.OutcomeReady, wantAck: true},
		{outcome: enrich.OutcomeDiscarded, wantAck: true},
		{outcome: enrich.OutcomeRetry, wantNack: true},
		{outcome: enrich.OutcomeFailed, wantNack: true},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			t.Parallel()

			handler := &fakeHandler{outcome: tt.outcome}
			c := newConsumer(nil, handler, zap.NewNop())
			a := &fakeAcker{}
			c.handle(context.Background(), "m-1", []byte(`{"bookmarkId":"b"}`), 2, a)

			require.Equal(t, tt.wantAck, a.acked)
			require.Equal(t, tt.wantNack, a.nacked)
			require.Equal(t, []byte(`{"bookmarkId":"b"}`), handler.data)
			require.Equal(t, 2, handler.attempt)
		})
	}
}

func TestDeliveryAttempt(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, deliveryAttempt(&pubsub.Message{}))
	n := 4
	require.Equal(t, 4, deliveryAttempt(&pubsub.Message{DeliveryAttempt: &n}))
}

func TestRunWrapsReceiveErrors(t *testing.T) {
	t.Parallel()

	c := newConsumer(&fakeReceiver{err: errors.New("permission denied")}, &fakeHandler{}, nil)
	require.EqualError(t, c.Run(context.Background()), "pubsub receive: permission denied")
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConsumer(&fakeReceiver{err: context.Canceled}, &fakeHandler{}, nil)
	require.NoError(t, c.Run(ctx))
}

type fakeHandler struct {
	outcome enrich.Outcome
	data    []byte
	attempt int
}

func (f *fakeHandler) HandleDelivery(_ context.Context, data []byte, attempt int) enrich.Outcome {
	f.data = data
	f.attempt = attempt
	return f.outcome
}

type fakeAcker struct {
	acked  bool
	nacked bool
}

func (f *fakeAcker) Ack()  { f.acked = true }
func (f *fakeAcker) Nack() { f.nacked = true }

type fakeReceiver struct {
	err error
}

func (f *fakeReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return f.err
}
