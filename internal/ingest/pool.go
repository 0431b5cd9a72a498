// Package ingest decouples HTTP intake from routing with a bounded queue.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
	"github.com/MaheshSundaramurthy/botmetrics/internal/metrics"
)

// Handler routes one event. relax.Service satisfies it.
type Handler interface {
	Handle(ctx context.Context, raw domain.RawRoutedEvent) error
}

// Pool feeds queued events to a fixed number of workers.
type Pool struct {
	queue   chan domain.RawRoutedEvent
	handler Handler
	workers int
	log     zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.RWMutex
	draining bool
}

func NewPool(handler Handler, queueMaxSize, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   make(chan domain.RawRoutedEvent, queueMaxSize),
		handler: handler,
		workers: workers,
		log:     logger.Component("ingest"),
	}
}

// Start launches the workers. When ctx is cancelled intake stops and the
// workers finish whatever is still queued before exiting.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.draining = true
		close(p.queue)
		p.mu.Unlock()
	}()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	// queued events still get routed during shutdown
	hctx := context.WithoutCancel(ctx)
	for raw := range p.queue {
		metrics.IngestQueueDepth.Set(float64(len(p.queue)))
		if err := p.handler.Handle(hctx, raw); err != nil {
			ev := p.log.Error()
			if errors.Is(err, domain.ErrInvalidData) {
				ev = p.log.Warn()
			}
			ev.Err(err).Int("worker", id).Str("namespace", raw.Namespace).Str("kind", string(raw.Kind)).Msg("event dropped")
		}
	}
}

// Enqueue never blocks. It reports false when the queue is full or the pool
// is shutting down.
func (p *Pool) Enqueue(raw domain.RawRoutedEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.draining {
		return false
	}
	select {
	case p.queue <- raw:
		metrics.IngestQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		return false
	}
}

// Depth is the number of events waiting for a worker.
func (p *Pool) Depth() int { return len(p.queue) }

// Wait blocks until every worker has exited after shutdown.
func (p *Pool) Wait() { p.wg.Wait() }
