package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// newsBlockInterval bounds how long the fan-out will block a NEWS
// delivery before falling back to drop-oldest, per the NEWS
// backpressure policy.
const newsBlockInterval = 200 * time.Millisecond

// fanOut routes unsolicited streaming Messages to named subscriber
// channels, applying a per-stream-kind backpressure policy so a slow
// consumer can never stall the Async Dispatcher Loop for the
// never-drop stream kinds beyond its own drain rate, and never stalls
// it at all for the drop-eligible kinds.
type fanOut struct {
	mu      sync.Mutex
	subs    map[int64]*Subscription
	dropped atomic.Int64
}

// Dropped returns the cumulative count of messages this fan-out has
// dropped under backpressure (NEWS drop-oldest only), for telemetry.
func (f *fanOut) Dropped() int64 {
	return f.dropped.Load()
}

func newFanOut() *fanOut {
	return &fanOut{subs: make(map[int64]*Subscription)}
}

// subscribe creates and registers a new Subscription.
func (f *fanOut) subscribe(reqID int64, kind StreamKind, bufSize int) *Subscription {
	sub := &Subscription{ReqID: reqID, Kind: kind, Ch: make(chan Message, bufSize)}
	f.mu.Lock()
	f.subs[reqID] = sub
	f.mu.Unlock()
	return sub
}

// cancel removes a Subscription. The dispatcher looks up the
// subscription on every message, so any message it picks up after
// cancel returns is not forwarded; a deliver call that had already
// found the subscription (for example a never-drop send blocked on a
// full channel) still completes its send.
func (f *fanOut) cancel(reqID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, reqID)
}

func (f *fanOut) lookup(reqID int64) (*Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[reqID]
	return sub, ok
}

// deliver forwards msg to the subscription for reqID, if any, applying
// that subscription's stream-kind policy. No-op if there is no active
// subscription for reqID (e.g. it was already cancelled).
func (f *fanOut) deliver(reqID int64, msg Message) {
	sub, ok := f.lookup(reqID)
	if !ok {
		return
	}

	switch sub.Kind {
	case StreamOrderStatus, StreamBar:
		// Never drop: a full channel pauses forwarding (and therefore
		// the dispatcher loop) until the consumer drains.
		sub.Ch <- msg

	case StreamNews:
		if f.deliverNews(sub, msg) {
			f.dropped.Add(1)
		}

	case StreamPrice:
		deliverCoalesce(sub, msg)

	default:
		sub.Ch <- msg
	}
}

// deliverNews implements "block for a bounded interval, then
// drop-oldest" for the NEWS stream kind. Reports whether a message was
// dropped to make room.
func (f *fanOut) deliverNews(sub *Subscription, msg Message) bool {
	select {
	case sub.Ch <- msg:
		return false
	default:
	}

	select {
	case sub.Ch <- msg:
		return false
	case <-time.After(newsBlockInterval):
	}

	// Still full: drop the oldest queued item to make room, then
	// enqueue. A concurrent drain by the consumer between these two
	// selects just means the plain send below succeeds immediately.
	select {
	case <-sub.Ch:
	default:
		return false
	}
	select {
	case sub.Ch <- msg:
	default:
	}
	return true
}

// deliverCoalesce implements "keep only the most recent value per tick
// type" for TICK_PRICE / TICK_SIZE. When the channel is full it scans
// buffered messages, drops the one sharing msg's tick type (replacing
// it), and leaves other tick types alone. Single-writer (the dispatcher
// loop is the only caller), so this cannot race with itself.
func deliverCoalesce(sub *Subscription, msg Message) {
	for {
		select {
		case sub.Ch <- msg:
			return
		default:
		}

		select {
		case old := <-sub.Ch:
			if old.TickType != msg.TickType {
				// Not the type we're replacing — put it back if there
				// is room; if not, it is lost, which is acceptable
				// under sustained overflow.
				select {
				case sub.Ch <- old:
				default:
				}
			}
		default:
			// Channel drained by the consumer between the two
			// selects; loop around to retry the send.
		}
	}
}
