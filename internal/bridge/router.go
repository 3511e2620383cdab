package bridge

import (
	"log/slog"

	"github.com/shockfeed/broker-bridge/internal/broker"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// router is the Incoming Event Router: an adapter implementing
// broker.Callbacks by composition, owning only the send half of the
// incoming channel, per the bridge's callback-to-message translation
// design note. Every method is invoked directly by the SDK's pump
// goroutine and must return quickly.
type router struct {
	incoming chan Message
	logger   *slog.Logger
}

func newRouter(bufSize int, logger *slog.Logger) *router {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		incoming: make(chan Message, bufSize),
		logger:   logger,
	}
}

// droppable reports whether a message type is eligible to be dropped
// when the incoming channel is saturated. Response-class and
// ORDER_STATUS messages are never dropped.
func droppable(t MessageType) bool {
	switch t {
	case NewsTick, TickPrice, TickSize:
		return true
	default:
		return false
	}
}

// send delivers a Message to the dispatcher. Droppable types use a
// non-blocking send and are discarded on overflow; everything else is
// delivered even if it means a (bounded-in-practice) blocking send,
// because losing an order-status or response-class message is never
// acceptable here.
func (r *router) send(m Message) {
	if droppable(m.Type) {
		select {
		case r.incoming <- m:
		default:
			r.logger.Warn("incoming channel saturated, dropping streaming message", "type", m.Type.String(), "reqId", m.ReqID)
		}
		return
	}
	r.incoming <- m
}

func (r *router) Messages() <-chan Message { return r.incoming }

func (r *router) NextValidID(orderID int64) {
	r.send(Message{Type: NextValidID, OrderID: orderID})
}

func (r *router) ConnectAck() {
	r.send(Message{Type: ConnectionAck})
}

func (r *router) ConnectionClosed() {
	r.send(Message{Type: ConnectionClosed})
}

func (r *router) Error(reqID int64, code int, message string) {
	if broker.InformationalCodes[code] {
		r.logger.Info("broker informational code", "code", code, "message", message)
		return
	}
	r.send(Message{Type: Error, ReqID: reqID, Code: code, Message: message})
}

func (r *router) NewsProviders(providers []contract.NewsProvider) {
	r.send(Message{Type: NewsProviders, ReqID: SystemReqID, Providers: providers})
}

func (r *router) TickNews(reqID int64, headline string) {
	r.send(Message{Type: NewsTick, ReqID: reqID, Headline: headline})
}

func (r *router) TickPrice(reqID int64, tickType int, price float64) {
	r.send(Message{Type: TickPrice, ReqID: reqID, TickType: tickType, Price: price})
}

func (r *router) TickSize(reqID int64, tickType int, size float64) {
	r.send(Message{Type: TickSize, ReqID: reqID, TickType: tickType, Size: size})
}

func (r *router) HistoricalData(reqID int64, bar contract.Bar) {
	r.send(Message{Type: HistoricalDataBar, ReqID: reqID, Bar: bar})
}

func (r *router) HistoricalDataEnd(reqID int64) {
	r.send(Message{Type: HistoricalDataEnd, ReqID: reqID})
}

func (r *router) OrderStatus(orderID int64, status string, filled, remaining, avgFillPrice float64) {
	r.send(Message{Type: OrderStatus, OrderID: orderID, Status: status, Filled: filled, Remaining: remaining, AvgFillPrice: avgFillPrice})
}

func (r *router) OpenOrder(orderID int64, c contract.Contract, o contract.Order) {
	r.send(Message{Type: OpenOrder, OrderID: orderID})
}

func (r *router) Position(account string, row contract.PositionRow) {
	r.send(Message{Type: Position, Account: account, PositionRow: row})
}

func (r *router) PositionEnd() {
	r.send(Message{Type: PositionEnd})
}

func (r *router) AccountSummary(reqID int64, value contract.AccountValue) {
	r.send(Message{Type: AccountSummary, ReqID: reqID, AccountValue: value})
}

func (r *router) AccountSummaryEnd(reqID int64) {
	r.send(Message{Type: AccountSummaryEnd, ReqID: reqID})
}
