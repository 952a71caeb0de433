// Package dispatcher fans queue deliveries out to a pool of consumers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/poucher/metadata-worker/internal/enrich"
)

// Queue is a delivery queue that also accepts new work.
type Queue interface {
	enrich.Queue
	Enqueue(ctx context.Context, msg enrich.Message) error
}

// Runner consumes a queue until the context finishes.
type Runner interface {
	Run(ctx context.Context, queue enrich.Queue)
}

// Dispatcher runs concurrency copies of a stateless Runner over one queue.
type Dispatcher struct {
	queue       Queue
	runner      Runner
	concurrency int
}

// New creates a Dispatcher. Concurrency below one is treated as one.
func New(queue Queue, runner Runner, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		queue:       queue,
		runner:      runner,
		concurrency: concurrency,
	}
}

// Run starts all consumers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for range d.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runner.Run(ctx, d.queue)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, msg enrich.Message) error {
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
