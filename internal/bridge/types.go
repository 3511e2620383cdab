// Package bridge implements the Broker Bridge Core: the component that
// mediates between the broker SDK's synchronous callback pump and the
// cooperative, channel-based application above it. See errors.go,
// ids.go, registry.go, router.go, fanout.go, dispatcher.go, and
// facade.go for the individual pieces; bridge.go wires them together.
package bridge

import (
	"time"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// MessageType is the closed enumeration of tagged records the Incoming
// Event Router produces.
type MessageType int

const (
	NextValidID MessageType = iota
	Error
	NewsProviders
	NewsTick
	TickPrice
	TickSize
	HistoricalDataBar
	HistoricalDataEnd
	OrderStatus
	OpenOrder
	Position
	PositionEnd
	AccountSummary
	AccountSummaryEnd
	ConnectionAck
	ConnectionClosed
)

func (t MessageType) String() string {
	switch t {
	case NextValidID:
		return "NEXT_VALID_ID"
	case Error:
		return "ERROR"
	case NewsProviders:
		return "NEWS_PROVIDERS"
	case NewsTick:
		return "NEWS_TICK"
	case TickPrice:
		return "TICK_PRICE"
	case TickSize:
		return "TICK_SIZE"
	case HistoricalDataBar:
		return "HISTORICAL_DATA_BAR"
	case HistoricalDataEnd:
		return "HISTORICAL_DATA_END"
	case OrderStatus:
		return "ORDER_STATUS"
	case OpenOrder:
		return "OPEN_ORDER"
	case Position:
		return "POSITION"
	case PositionEnd:
		return "POSITION_END"
	case AccountSummary:
		return "ACCOUNT_SUMMARY"
	case AccountSummaryEnd:
		return "ACCOUNT_SUMMARY_END"
	case ConnectionAck:
		return "CONNECTION_ACK"
	case ConnectionClosed:
		return "CONNECTION_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SystemReqID is the sentinel RequestId used for SDK responses that
// omit a request ID (e.g. the news-provider listing).
const SystemReqID int64 = -101

// Message is the tagged record produced by the Incoming Event Router
// and consumed by the Async Dispatcher Loop. ReqID is 0 when the
// message carries no request correlation (system messages).
type Message struct {
	Type    MessageType
	ReqID   int64
	OrderID int64

	Code    int
	Message string

	Providers    []contract.NewsProvider
	Headline     string
	TickType     int
	Price        float64
	Size         float64
	Bar          contract.Bar
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	Account      string
	PositionRow  contract.PositionRow
	AccountValue contract.AccountValue
}

// RequestKind is the closed enumeration of outbound request variants,
// each with an associated response-aggregation strategy, per the
// bridge's "dynamic request type dispatch" design note.
type RequestKind int

const (
	KindNewsProviders RequestKind = iota
	KindSubscribeNews
	KindHistoricalData
	KindMarketSnapshot
	KindPlaceOrder
	KindAccountSummary
)

// AggregationStrategy describes how a RequestContext accumulates
// streamed partial responses before it completes.
type AggregationStrategy int

const (
	// AggregateNone completes on the first reply (e.g. an order ack).
	AggregateNone AggregationStrategy = iota
	// AggregateAppendUntilTerminator accumulates values until a
	// terminating marker message arrives (historical data, account
	// summary).
	AggregateAppendUntilTerminator
	// AggregateReservedID completes the one outstanding request of a
	// given kind regardless of the reqId on the reply (news providers).
	AggregateReservedID
)

// StreamKind identifies the category of an active Subscription, used to
// select the Streaming Fan-out's backpressure policy.
type StreamKind int

const (
	StreamNews StreamKind = iota
	StreamPrice
	StreamBar
	StreamOrderStatus
)

// Subscription is a streaming handle: a destination channel fed by the
// Streaming Fan-out for one RequestId.
type Subscription struct {
	ReqID int64
	Kind  StreamKind
	Ch    chan Message
}

// TickerEvent is produced by the News Ingestion Pipeline and consumed
// by the Detection Engine Worker Pool.
type TickerEvent struct {
	Symbol    string
	Timestamp time.Time
	Provider  string
}

// TradeSignal is produced by the Detection Engine Worker Pool.
type TradeSignal struct {
	Symbol    string
	Side      string // contract.ActionBuy | contract.ActionSell
	Price     float64
	Timestamp time.Time
}

// State is the bridge connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Operational
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Operational:
		return "OPERATIONAL"
	default:
		return "UNKNOWN"
	}
}
