// Package broker declares the boundary contract for the vendor broker
// SDK. The SDK itself is an opaque external library: a synchronous,
// callback-oriented client that runs its own blocking I/O pump on a
// dedicated goroutine and delivers events by invoking methods on a
// caller-supplied callback interface. Nothing in this package knows
// about historical bars, news tickers, or shock detection — it only
// knows the shapes the vendor wire protocol uses.
package broker

import (
	"context"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// Callbacks is the inbound surface the SDK invokes. An adapter
// implementing this interface is the Incoming Event Router: composition
// over the vendor's subclass-the-wrapper pattern, per the bridge design
// notes. Every method must return quickly and must not block the
// caller — the SDK's pump goroutine is calling these directly.
type Callbacks interface {
	NextValidID(orderID int64)
	ConnectAck()
	ConnectionClosed()
	Error(reqID int64, code int, message string)
	NewsProviders(providers []contract.NewsProvider)
	TickNews(reqID int64, headline string)
	TickPrice(reqID int64, tickType int, price float64)
	TickSize(reqID int64, tickType int, size float64)
	HistoricalData(reqID int64, bar contract.Bar)
	HistoricalDataEnd(reqID int64)
	OrderStatus(orderID int64, status string, filled, remaining, avgFillPrice float64)
	OpenOrder(orderID int64, c contract.Contract, o contract.Order)
	Position(account string, row contract.PositionRow)
	PositionEnd()
	AccountSummary(reqID int64, value contract.AccountValue)
	AccountSummaryEnd(reqID int64)
}

// TickType 47 is the vendor's "fundamental ratios" slot repurposed by
// the news feed to carry the raw headline string, per the outbound SDK
// contract in the bridge's external-interfaces section.
const TickTypeNews = 47

// Informational error codes are logged and suppressed instead of
// failing a pending request. This is the authoritative union named by
// the bridge design notes (source revisions disagreed; this is the
// resolved set).
var InformationalCodes = map[int]bool{
	2100: true, 2103: true, 2104: true, 2105: true, 2106: true,
	2107: true, 2108: true, 2119: true, 2150: true, 2157: true,
	2158: true, 2168: true, 2169: true, 2170: true,
}

// Conn is the outbound surface: the set of operations the dispatcher
// issues against the SDK client. Calls are expected to be non-blocking
// — the vendor SDK enqueues onto its own outbound buffer and returns
// immediately; Run is the only blocking call, and it is the pump.
type Conn interface {
	// SetCallbacks binds the Incoming Event Router adapter. Must be
	// called before Connect.
	SetCallbacks(cb Callbacks)

	// Connect dials the broker gateway. It does not wait for
	// NextValidID; that arrives asynchronously via Callbacks.
	Connect(ctx context.Context, host string, port int, clientID int) error

	// Run drives the pump: reads the transport and invokes Callbacks
	// until ctx is cancelled or the transport closes. Blocking — the
	// caller runs it on its own goroutine.
	Run(ctx context.Context) error

	// Disconnect tears down the transport, causing Run to return.
	Disconnect() error

	ReqNewsProviders(reqID int64) error
	ReqMktDataNews(reqID int64, c contract.Contract) error
	ReqMktDataSnapshot(reqID int64, c contract.Contract) error
	CancelMktData(reqID int64) error
	// ReqHistoricalData requests an aggregated bar history. When
	// keepUpToDate is true, the gateway continues streaming newly
	// completed real-time bars under the same reqID after the
	// historical-data terminator, until CancelMktData(reqID) is called.
	ReqHistoricalData(reqID int64, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) error
	PlaceOrder(orderID int64, c contract.Contract, o contract.Order) error
	CancelOrder(orderID int64) error
	ReqAccountSummary(reqID int64, group string, tags []string) error
}
