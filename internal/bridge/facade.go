package bridge

import (
	"context"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// FetchHistoricalData issues a historical-data request and returns the
// ordered sequence of bars received between dispatch and the matching
// terminator, per the aggregation invariant. When keepUpToDate is true,
// the gateway keeps the request open past the terminator and streams
// each subsequently completed real-time bar under the same reqId; the
// returned Subscription delivers those updates (StreamBar, never-drop
// policy) until the caller cancels it with CancelSubscription. When
// keepUpToDate is false the returned Subscription is nil.
func (b *Bridge) FetchHistoricalData(ctx context.Context, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) ([]contract.Bar, *Subscription, error) {
	if err := b.requireOperational(); err != nil {
		return nil, nil, err
	}

	reqID := b.ids.nextRequestID()
	rctx := b.registry.insert(reqID, KindHistoricalData, AggregateAppendUntilTerminator, b.cfg.HistoricalDataTimeout)

	// Subscribed before the request is issued (mirroring
	// RequestMarketSnapshot's ordering) so a real-time bar arriving the
	// instant the terminator clears the registry entry is never missed.
	var sub *Subscription
	if keepUpToDate {
		sub = b.fanout.subscribe(reqID, StreamBar, b.streamBuffer())
	}

	if err := b.conn.ReqHistoricalData(reqID, c, duration, barSize, whatToShow, useRTH, keepUpToDate); err != nil {
		b.registry.remove(reqID)
		if keepUpToDate {
			b.fanout.cancel(reqID)
		}
		return nil, nil, ErrBadRequest
	}

	res, err := await(ctx, b.registry, reqID, rctx.resultCh, func() { _ = b.conn.CancelMktData(reqID) })
	if err != nil {
		if keepUpToDate {
			b.fanout.cancel(reqID)
		}
		return nil, nil, err
	}
	return res.Bars, sub, nil
}

// RequestMarketSnapshot issues a one-shot market-data snapshot request
// for the given contract and waits for the first TICK_PRICE reply,
// resolving with its price. The detection engine and position manager
// use this for a cheap last-price read rather than a full streaming
// subscription.
func (b *Bridge) RequestMarketSnapshot(ctx context.Context, c contract.Contract) (float64, error) {
	if err := b.requireOperational(); err != nil {
		return 0, err
	}

	reqID := b.ids.nextRequestID()
	rctx := b.registry.insert(reqID, KindMarketSnapshot, AggregateNone, b.cfg.RequestTimeout)

	// A snapshot is a streaming subscription under the hood (the
	// broker SDK models snapshots as market data that stops after one
	// update): the dispatcher loop's streaming branch forwards its ticks
	// to this subscription, keyed by the same reqId as the registry
	// entry, and the select below reads them. The registry entry is
	// never completed directly; it only lets the request be failed.
	sub := b.fanout.subscribe(reqID, StreamPrice, 1)

	if err := b.conn.ReqMktDataSnapshot(reqID, c); err != nil {
		b.registry.remove(reqID)
		b.fanout.cancel(reqID)
		return 0, err
	}

	for {
		select {
		case msg := <-sub.Ch:
			if msg.Type != TickPrice {
				// A TICK_SIZE under the same reqId carries no price.
				continue
			}
			b.fanout.cancel(reqID)
			b.registry.remove(reqID)
			return msg.Price, nil
		case <-ctx.Done():
			b.fanout.cancel(reqID)
			b.registry.remove(reqID)
			_ = b.conn.CancelMktData(reqID)
			return 0, ErrCancelled
		case res := <-rctx.resultCh:
			// Reached only when something failed the registry entry:
			// the sweeper on timeout (ErrTimeout), a broker error
			// against reqID, or a disconnect.
			b.fanout.cancel(reqID)
			return 0, res.Err
		}
	}
}

// PlaceOrder submits a market order and returns the allocated OrderId
// together with the Subscription that will receive its ORDER_STATUS
// stream, so callers (the execution worker) can await a terminal fill
// without a second round-trip.
func (b *Bridge) PlaceOrder(ctx context.Context, c contract.Contract, o contract.Order) (int64, *Subscription, error) {
	if err := b.requireOperational(); err != nil {
		return 0, nil, err
	}

	orderID, err := b.ids.nextOrderIDValue()
	if err != nil {
		return 0, nil, err
	}

	sub := b.fanout.subscribe(orderID, StreamOrderStatus, b.streamBuffer())

	if err := b.conn.PlaceOrder(orderID, c, o); err != nil {
		b.fanout.cancel(orderID)
		return 0, nil, ErrRejected
	}

	return orderID, sub, nil
}

// RequestAccountSummary returns the aggregated tag/value pairs reported
// for the given account group and tag list.
func (b *Bridge) RequestAccountSummary(ctx context.Context, group string, tags []string) ([]contract.AccountValue, error) {
	if err := b.requireOperational(); err != nil {
		return nil, err
	}

	reqID := b.ids.nextRequestID()
	rctx := b.registry.insert(reqID, KindAccountSummary, AggregateAppendUntilTerminator, b.cfg.RequestTimeout)

	if err := b.conn.ReqAccountSummary(reqID, group, tags); err != nil {
		b.registry.remove(reqID)
		return nil, err
	}

	res, err := await(ctx, b.registry, reqID, rctx.resultCh, nil)
	if err != nil {
		return nil, err
	}
	return res.AccountValues, nil
}
