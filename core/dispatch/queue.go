package dispatch

import (
	"context"
	"sync"

	"github.com/luminet/dimmerd/core/logger"
	"github.com/luminet/dimmerd/core/model"
)

// Queue serializes commands per target: a single worker drains each target's
// queue so two schedules addressing the same lamp never race. Ordering across
// different targets is not guaranteed.
type Queue struct {
	dispatcher *Dispatcher
	log        logger.Logger

	mu      sync.Mutex
	workers map[string]*worker
	ctx     context.Context
	started bool
	wg      sync.WaitGroup
}

type worker struct {
	mu      sync.Mutex
	pending []model.ScheduledFire
	notify  chan struct{}
}

// NewQueue creates a Queue dispatching through d.
func NewQueue(d *Dispatcher, log logger.Logger) *Queue {
	return &Queue{dispatcher: d, log: log, workers: make(map[string]*worker)}
}

// Start binds the queue to ctx. Cancelling ctx stops the workers after their
// current attempt; fires still queued are recorded as abandoned, never
// dropped silently.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.started = true
	q.mu.Unlock()
}

// Enqueue appends the fire to its target's queue, spawning the target worker
// on first use. Enqueue never blocks.
func (q *Queue) Enqueue(fire model.ScheduledFire) {
	q.mu.Lock()
	if !q.started || q.ctx.Err() != nil {
		q.mu.Unlock()
		q.abandonUnstarted(fire)
		return
	}
	key := fire.Target.Key()
	w, ok := q.workers[key]
	if !ok {
		w = &worker{notify: make(chan struct{}, 1)}
		q.workers[key] = w
		q.wg.Add(1)
		go q.drain(w, key)
	}
	q.mu.Unlock()

	w.mu.Lock()
	w.pending = append(w.pending, fire)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until all workers have exited. Call after the Start context is
// canceled.
func (q *Queue) Wait() { q.wg.Wait() }

// drain delivers one fire at a time in arrival order.
func (q *Queue) drain(w *worker, key string) {
	defer q.wg.Done()
	for {
		fire, ok := w.pop()
		if !ok {
			select {
			case <-w.notify:
				continue
			case <-q.ctx.Done():
				q.abandonRemaining(w, key)
				return
			}
		}
		if q.ctx.Err() != nil {
			q.abandonUnstarted(fire)
			q.abandonRemaining(w, key)
			return
		}
		q.dispatcher.Dispatch(q.ctx, fire)
	}
}

func (w *worker) pop() (model.ScheduledFire, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return model.ScheduledFire{}, false
	}
	fire := w.pending[0]
	w.pending = w.pending[1:]
	return fire, true
}

// abandonRemaining records abandoned attempts for fires still queued at
// shutdown.
func (q *Queue) abandonRemaining(w *worker, key string) {
	w.mu.Lock()
	rest := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(rest) > 0 {
		q.log.Warnf("target %s: abandoning %d queued fires at shutdown", key, len(rest))
	}
	for _, f := range rest {
		q.abandonUnstarted(f)
	}
}

func (q *Queue) abandonUnstarted(fire model.ScheduledFire) {
	q.dispatcher.AbandonUndispatched(context.Background(), fire, "shutdown before dispatch")
}
