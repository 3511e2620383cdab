package bridge

import "sync"

// unsetOrderID is the sentinel "unset" value for the order-ID space
// before the broker's first NEXT_VALID_ID message seeds it.
const unsetOrderID int64 = -1

// idAllocator issues the two disjoint monotonic identifier spaces named
// in the data model: request IDs (free-running from construction) and
// order IDs (gated on a broker-supplied seed). Both counters are
// protected by the same mutex because façade operations can in
// principle be invoked from either concurrency domain during
// construction; after Connect, only the cooperative domain calls these.
type idAllocator struct {
	mu sync.Mutex

	nextReqID   int64
	nextOrderID int64 // unsetOrderID until seeded
}

func newIDAllocator() *idAllocator {
	return &idAllocator{nextOrderID: unsetOrderID}
}

// nextRequestID returns the next request ID, starting at 0.
func (a *idAllocator) nextRequestID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextReqID
	a.nextReqID++
	return id
}

// seedOrderID sets the starting order ID from the broker's
// NEXT_VALID_ID message. Idempotent: subsequent calls are ignored, per
// the allocator's design — only the first observation initializes the
// space.
func (a *idAllocator) seedOrderID(seed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextOrderID == unsetOrderID {
		a.nextOrderID = seed
	}
}

// nextOrderIDValue allocates the next order ID. Returns ErrNotReady if
// the space has not yet been seeded.
func (a *idAllocator) nextOrderIDValue() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextOrderID == unsetOrderID {
		return 0, ErrNotReady
	}
	id := a.nextOrderID
	a.nextOrderID++
	return id, nil
}

// ready reports whether the order-ID space has been seeded.
func (a *idAllocator) ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextOrderID != unsetOrderID
}
