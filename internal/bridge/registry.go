package bridge

import (
	"sync"
	"time"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// requestResult is the single completion outcome of a RequestContext:
// success with aggregated data, or failure with an error. Exactly one
// of these is ever observed per context, per the data model invariant.
type requestResult struct {
	Bars          []contract.Bar
	Providers     []contract.NewsProvider
	AccountValues []contract.AccountValue
	OrderID       int64
	Err           error
}

// requestContext is the registry entry described in the data model:
// the RequestId, the pending completion handle, a request-type tag, an
// aggregator for multi-part responses, and the creation timestamp.
// Mutated only by the Async Dispatcher Loop (and the sweeper, which
// only ever fails a context, never completes one the dispatcher is
// also touching — registry's mutex makes that safe either way).
type requestContext struct {
	reqID     int64
	kind      RequestKind
	strategy  AggregationStrategy
	createdAt time.Time
	deadline  time.Time
	resultCh  chan requestResult

	bars          []contract.Bar
	accountValues []contract.AccountValue
}

// registry is the in-memory mapping from RequestId to RequestContext.
type registry struct {
	mu      sync.Mutex
	byID    map[int64]*requestContext
	byKind  map[RequestKind]*requestContext // for reserved-id (reqId-less) responses

	defaultTimeout time.Duration
}

func newRegistry(defaultTimeout time.Duration) *registry {
	return &registry{
		byID:           make(map[int64]*requestContext),
		byKind:         make(map[RequestKind]*requestContext),
		defaultTimeout: defaultTimeout,
	}
}

// insert registers a new pending request. For reserved-id kinds
// (KindNewsProviders), the context is also indexed by kind so the
// dispatcher can find it when the reply omits a RequestId. Ordering
// invariant: insert must complete before the SDK call is issued so the
// completion handle is observable when the first reply arrives — the
// Outbound Request Dispatcher enforces that call order.
func (r *registry) insert(reqID int64, kind RequestKind, strategy AggregationStrategy, timeout time.Duration) *requestContext {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	ctx := &requestContext{
		reqID:     reqID,
		kind:      kind,
		strategy:  strategy,
		createdAt: time.Now(),
		deadline:  time.Now().Add(timeout),
		resultCh:  make(chan requestResult, 1),
	}

	r.mu.Lock()
	r.byID[reqID] = ctx
	if strategy == AggregateReservedID {
		r.byKind[kind] = ctx
	}
	r.mu.Unlock()

	return ctx
}

// lookup finds a context by RequestId.
func (r *registry) lookup(reqID int64) (*requestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.byID[reqID]
	return ctx, ok
}

// popByKind finds and removes the one outstanding context of a reserved
// kind, for replies that omit a RequestId (e.g. NEWS_PROVIDERS).
func (r *registry) popByKind(kind RequestKind) (*requestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.byKind[kind]
	if ok {
		delete(r.byKind, kind)
		delete(r.byID, ctx.reqID)
	}
	return ctx, ok
}

// appendBar accumulates one bar into an in-flight historical-data
// aggregation without completing it.
func (r *registry) appendBar(reqID int64, bar contract.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.byID[reqID]; ok {
		ctx.bars = append(ctx.bars, bar)
	}
}

// appendAccountValue accumulates one tag/value pair into an in-flight
// account-summary aggregation without completing it.
func (r *registry) appendAccountValue(reqID int64, v contract.AccountValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.byID[reqID]; ok {
		ctx.accountValues = append(ctx.accountValues, v)
	}
}

// complete resolves a context with its accumulated (or immediate)
// result and removes it from the registry.
func (r *registry) complete(reqID int64, result requestResult) {
	r.mu.Lock()
	ctx, ok := r.byID[reqID]
	if ok {
		delete(r.byID, reqID)
		if ctx.strategy == AggregateReservedID {
			delete(r.byKind, ctx.kind)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if result.Bars == nil {
		result.Bars = ctx.bars
	}
	if result.AccountValues == nil {
		result.AccountValues = ctx.accountValues
	}
	ctx.resultCh <- result
}

// fail resolves a context with an error and removes it.
func (r *registry) fail(reqID int64, err error) {
	r.complete(reqID, requestResult{Err: err})
}

// remove deletes a context without resolving its result channel (used
// by cancellation, which resolves the caller directly with
// ErrCancelled instead).
func (r *registry) remove(reqID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.byID[reqID]; ok {
		delete(r.byID, reqID)
		if ctx.strategy == AggregateReservedID {
			delete(r.byKind, ctx.kind)
		}
	}
}

// contains reports whether reqID is currently outstanding. Exposed for
// the registry's testable invariant: contains(r) iff the request is
// outstanding.
func (r *registry) contains(reqID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[reqID]
	return ok
}

// size reports the number of outstanding contexts.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// sweep fails every context past its deadline with ErrTimeout. Intended
// to run on its own low-frequency ticker (≥1 Hz, per the design); it is
// the one legitimate second writer alongside the dispatcher loop, and
// the registry's mutex is what makes that safe.
func (r *registry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []int64
	for id, ctx := range r.byID {
		if now.After(ctx.deadline) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.fail(id, ErrTimeout)
	}
}

// runSweeper ticks at the given interval until stop is closed.
func (r *registry) runSweeper(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// failAll fails every outstanding context with the given error. Used on
// disconnect, per the shutdown sequence: fail all still-pending
// registry entries with Disconnected.
func (r *registry) failAll(err error) {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.fail(id, err)
	}
}
