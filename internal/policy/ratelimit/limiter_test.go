package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poucher/metadata-worker/internal/enrich"
)

type countingFetcher struct {
	calls     []string
	deadlines []time.Time
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (enrich.Page, error) {
	c.calls = append(c.calls, url)
	deadline, _ := ctx.Deadline()
	c.deadlines = append(c.deadlines, deadline)
	return enrich.Page{URL: url, HTML: "<title>x</title>"}, nil
}

func TestLimiterWaitsBetweenRequestsToSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	require.Equal(t, 2, l.Hosts())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://example.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com")
	require.ErrorContains(t, err, "rate limit wait")
}

func TestLimiterMaxWaitBoundsTheWait(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1, MaxWait: 20 * time.Millisecond})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	start := time.Now()
	err := l.Wait(context.Background(), "https://slow.example.com")
	require.ErrorContains(t, err, "rate limit wait")
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterEvictsIdleHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{IdleTTL: time.Minute})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	require.Equal(t, 2, l.Hosts())

	now = now.Add(30 * time.Second)
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))

	now = now.Add(45 * time.Second)
	require.NoError(t, l.Wait(ctx, "https://c.example.com"))
	require.Equal(t, 2, l.Hosts())

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Wait(ctx, "https://d.example.com"))
	require.Equal(t, 1, l.Hosts())
}

func TestWrapDelegates(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := Wrap(next, New(Config{}))
	page, err := f.Fetch(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/post", page.URL)
	require.Equal(t, []string{"https://example.com/post"}, next.calls)
}

func TestWrapSharesMaxWaitWithFetch(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := Wrap(next, New(Config{MaxWait: 2 * time.Second}))
	start := time.Now()
	_, err := f.Fetch(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	require.Len(t, next.deadlines, 1)
	require.WithinDuration(t, start.Add(2*time.Second), next.deadlines[0], 500*time.Millisecond)
}

func TestWrapSkipsFetchWhenWaitFails(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	l := New(Config{RPS: 0.01, Burst: 1})
	f := Wrap(next, l)
	_, err := f.Fetch(context.Background(), "https://example.com/1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "https://example.com/2")
	require.Error(t, err)
	require.Len(t, next.calls, 1)
}
