// Package worker implements the worker runtime (C7): a single cooperative
// actor goroutine that owns all mutable state of C3/C4/C5, plus the
// request-identifier scheme used to correlate outbound HTTP requests
// (call-link, SFU join, peek) with their asynchronous embedder-delivered
// responses.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/ringrtc/internal/store"
)

// Worker is the single-threaded actor of §5: every inbound platform command
// and every inbound signaling event is posted here and handlers run to
// completion without locking, since only this goroutine ever touches C3/C4/C5
// state.
type Worker struct {
	log    *slog.Logger
	queue  chan func()
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Worker with the given queue depth and starts its actor
// goroutine under ctx.
func New(ctx context.Context, log *slog.Logger, queueDepth int) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w := &Worker{
		log:    log,
		queue:  make(chan func(), queueDepth),
		group:  g,
		cancel: cancel,
	}
	g.Go(func() error {
		w.run(gctx)
		return nil
	})
	return w
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-w.queue:
			fn()
		}
	}
}

// Post enqueues fn to run on the actor goroutine. It never blocks the
// caller waiting for fn to execute; that is the point of the actor model.
func (w *Worker) Post(fn func()) {
	select {
	case w.queue <- fn:
	default:
		// Queue full: run degraded-but-correct by blocking, rather than
		// silently dropping a state-mutating command.
		w.queue <- fn
	}
}

// Do posts fn to the actor goroutine and blocks until it has finished
// running, giving callers a synchronous call shape while still guaranteeing
// fn only ever executes on the single actor goroutine (§5: "a single
// cooperative worker thread owns all mutable state of C3/C4/C5").
func (w *Worker) Do(fn func()) {
	done := make(chan struct{})
	w.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Shutdown stops accepting new work and waits for the actor goroutine to
// exit.
func (w *Worker) Shutdown() {
	w.cancel()
	_ = w.group.Wait()
}

// RequestRegistry correlates an outbound request with its asynchronous
// completion, typed to the eventual result value V. The Call Manager
// instantiates it only with V = *HttpResult; peek and call-link requests
// share that registry and decode the HTTP result in their own completion
// callbacks, so no registry is typed to PeekInfo or CallLinkState.
type RequestRegistry[V any] struct {
	store   *store.TTLStore[uint64, func(V, error)]
	nextID  atomic.Uint64
	ttl     time.Duration
	log     *slog.Logger
}

// NewRequestRegistry builds a registry whose pending entries expire after
// ttl if never completed (guards against a lost embedder response leaking
// memory forever).
func NewRequestRegistry[V any](log *slog.Logger, ttl time.Duration) *RequestRegistry[V] {
	return &RequestRegistry[V]{
		store: store.NewTTLStoreWithEvict(ttl/2+time.Second, func(id uint64, _ func(V, error)) {
			log.Warn("worker: pending request expired without a response", "requestId", id)
		}),
		ttl: ttl,
		log: log,
	}
}

// Register allocates a fresh requestId and stores onComplete against it.
func (r *RequestRegistry[V]) Register(onComplete func(V, error)) uint64 {
	id := r.nextID.Add(1)
	r.store.Set(id, onComplete, r.ttl)
	return id
}

// Complete resolves a pending request. An unknown requestId (already
// completed, expired, or never issued) is logged and dropped — never
// fatal, per §4.7.
func (r *RequestRegistry[V]) Complete(requestID uint64, value V, err error) {
	onComplete, ok := r.store.Get(requestID)
	if !ok {
		r.log.Warn("worker: completion for unknown requestId", "requestId", requestID)
		return
	}
	r.store.Delete(requestID)
	onComplete(value, err)
}

// Drop removes a pending request without completing it, e.g. because the
// owning call has already terminated and the eventual response must be
// discarded (§5: "their completion on an already-terminated call is
// dropped at the request registry").
func (r *RequestRegistry[V]) Drop(requestID uint64) {
	r.store.Delete(requestID)
}

// Close stops the registry's background cleanup.
func (r *RequestRegistry[V]) Close() {
	r.store.Close()
}

// HttpResult is the outcome of a plain outbound HTTP request routed
// through the request registry.
type HttpResult struct {
	Status int
	Body   []byte
}
