package nats

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/enrich"
)

func TestHandleSettlesByOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome enrich.Outcome
		want    string
	}{
		{outcome: enrich.OutcomeReady, want: "ack"},
		{outcome: enrich.OutcomeDiscarded, want: "ack"},
		{outcome: enrich.OutcomeRetry, want: "nak"},
		{outcome: enrich.OutcomeFailed, want: "term"},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			t.Parallel()

			handler := &fakeHandler{outcome: tt.outcome}
			c := New(nil, handler, Config{Subject: "bookmarks.created"}, zap.NewNop())
			s := &fakeSettler{}
			c.handle(context.Background(), []byte("{}"), 3, s)

			require.Equal(t, []string{tt.want}, s.calls)
			require.Equal(t, 3, handler.attempt)
		})
	}
}

func TestHandleRetryNaksWithBackoff(t *testing.T) {
	t.Parallel()

	c := New(nil, &fakeHandler{outcome: enrich.OutcomeRetry}, Config{RetryDelay: time.Second}, zap.NewNop())
	s := &fakeSettler{}
	c.handle(context.Background(), []byte("{}"), 2, s)
	require.Equal(t, []string{"nak:2s"}, s.calls)
}

func TestWaitDrained(t *testing.T) {
	t.Parallel()

	sub := &fakeSub{}
	sub.valid.Store(true)
	time.AfterFunc(60*time.Millisecond, func() { sub.valid.Store(false) })
	require.True(t, waitDrained(sub, time.Second))

	stuck := &fakeSub{}
	stuck.valid.Store(true)
	require.False(t, waitDrained(stuck, 60*time.Millisecond))
}

type fakeSub struct {
	valid atomic.Bool
}

func (f *fakeSub) IsValid() bool { return f.valid.Load() }

func TestHandleLogsSettleErrors(t *testing.T) {
	t.Parallel()

	c := New(nil, &fakeHandler{outcome: enrich.OutcomeReady}, Config{}, nil)
	s := &fakeSettler{err: errors.New("nats: message does not have a reply")}
	require.NotPanics(t, func() { c.handle(context.Background(), nil, 1, s) })
	require.Equal(t, []string{"ack"}, s.calls)
}

func TestDeliveryAttemptWithoutJetStreamMetadata(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, deliveryAttempt(&nats.Msg{Subject: "bookmarks.created", Reply: "_INBOX.x"}))
}

type fakeHandler struct {
	outcome enrich.Outcome
	attempt int
}

func (f *fakeHandler) HandleDelivery(_ context.Context, _ []byte, attempt int) enrich.Outcome {
	f.attempt = attempt
	return f.outcome
}

type fakeSettler struct {
	calls []string
	err   error
}

func (f *fakeSettler) Ack(...nats.AckOpt) error {
	f.calls = append(f.calls, "ack")
	return f.err
}

func (f *fakeSettler) Nak(...nats.AckOpt) error {
	f.calls = append(f.calls, "nak")
	return f.err
}

func (f *fakeSettler) NakWithDelay(delay time.Duration, _ ...nats.AckOpt) error {
	f.calls = append(f.calls, "nak:"+delay.String())
	return f.err
}

func (f *fakeSettler) Term(...nats.AckOpt) error {
	f.calls = append(f.calls, "term")
	return f.err
}
