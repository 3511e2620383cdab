// Package detection implements the Detection Engine Worker Pool: a
// fixed-size set of workers draining ticker events produced by the news
// ingestion pipeline, pulling a short history and a live snapshot
// through the bridge façade, and evaluating a price/volume shock
// predicate to decide whether to emit a trade signal.
package detection

import (
	"context"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// Facade is the subset of the Bridge Façade the detection engine calls.
// Narrowed to an interface so workers can be tested without a live
// broker connection.
type Facade interface {
	FetchHistoricalData(ctx context.Context, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) ([]contract.Bar, *bridge.Subscription, error)
	RequestMarketSnapshot(ctx context.Context, c contract.Contract) (float64, error)
}

// Indicator evaluates whether the given bar history and live price
// constitute a shock, per the externally-delegated predicate named in
// the worker pool's design (only the call-site contract is owned by
// this core; the math behind a production-grade implementation is not).
type Indicator interface {
	IsShock(bars []contract.Bar, snapshot float64, priceMultiplier, volumeMultiplier float64) bool
}

// isTimeoutOrDisconnected reports whether err is one the worker should
// log-and-skip rather than treat as unexpected.
func isTimeoutOrDisconnected(err error) bool {
	return err == bridge.ErrTimeout || err == bridge.ErrDisconnected
}
