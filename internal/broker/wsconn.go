package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// WSConn is the production Conn. The real vendor SDK speaks a binary,
// versioned socket protocol to the broker gateway process; this core
// does not implement that protocol (it is the opaque external library
// named in scope). Instead WSConn treats the gateway as a thin
// WebSocket-framed JSON proxy in front of it — the transport the bridge
// actually owns and drives a pump over. WSConn does not reconnect or
// buffer: once the socket closes, Run returns and sends fail until
// Connect is called again.
type WSConn struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	cb     Callbacks
	logger *slog.Logger
}

// NewWSConn creates a WSConn targeting the gateway's WebSocket endpoint
// (host/port are combined into a ws:// URL by Connect).
func NewWSConn(logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSConn{logger: logger}
}

// SetCallbacks binds the Incoming Event Router adapter. Must be called
// before Run.
func (w *WSConn) SetCallbacks(cb Callbacks) {
	w.cb = cb
}

func (w *WSConn) Connect(ctx context.Context, host string, port int, clientID int) error {
	w.url = fmt.Sprintf("ws://%s:%d/bridge?clientId=%d", host, port, clientID)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial broker gateway: %w", err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	return nil
}

func (w *WSConn) Disconnect() error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// Run is the pump: it blocks reading frames off the WebSocket and
// invoking Callbacks until ctx is cancelled or the socket closes. The
// bridge runs this on a dedicated goroutine, exactly as it would the
// vendor SDK's own blocking run loop.
func (w *WSConn) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.Disconnect()
	}()

	for {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()
		if conn == nil {
			return nil
		}

		var frame inFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.cb.ConnectionClosed()
				return nil
			}
			w.cb.ConnectionClosed()
			return fmt.Errorf("read broker gateway frame: %w", err)
		}

		w.dispatch(frame)
	}
}

func (w *WSConn) dispatch(f inFrame) {
	switch f.Type {
	case "nextValidId":
		w.cb.NextValidID(f.OrderID)
	case "connectAck":
		w.cb.ConnectAck()
	case "error":
		w.cb.Error(f.ReqID, f.Code, f.Message)
	case "newsProviders":
		w.cb.NewsProviders(f.Providers)
	case "tickNews":
		w.cb.TickNews(f.ReqID, f.Headline)
	case "tickPrice":
		w.cb.TickPrice(f.ReqID, f.TickType, f.Price)
	case "tickSize":
		w.cb.TickSize(f.ReqID, f.TickType, f.Size)
	case "historicalData":
		if f.Bar != nil {
			w.cb.HistoricalData(f.ReqID, *f.Bar)
		}
	case "historicalDataEnd":
		w.cb.HistoricalDataEnd(f.ReqID)
	case "orderStatus":
		w.cb.OrderStatus(f.OrderID, f.Status, f.Filled, f.Remaining, f.AvgFillPrice)
	case "position":
		if f.Position != nil {
			w.cb.Position(f.Account, *f.Position)
		}
	case "positionEnd":
		w.cb.PositionEnd()
	case "accountSummary":
		if f.AccountValue != nil {
			w.cb.AccountSummary(f.ReqID, *f.AccountValue)
		}
	case "accountSummaryEnd":
		w.cb.AccountSummaryEnd(f.ReqID)
	default:
		w.logger.Debug("unhandled broker gateway frame", "type", f.Type)
	}
}

func (w *WSConn) send(f outFrame) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.conn.WriteJSON(f)
}

func (w *WSConn) ReqNewsProviders(reqID int64) error {
	return w.send(outFrame{Op: "reqNewsProviders", ReqID: reqID})
}

func (w *WSConn) ReqMktDataNews(reqID int64, c contract.Contract) error {
	return w.send(outFrame{Op: "reqMktDataNews", ReqID: reqID, Contract: &c})
}

func (w *WSConn) ReqMktDataSnapshot(reqID int64, c contract.Contract) error {
	return w.send(outFrame{Op: "reqMktDataSnapshot", ReqID: reqID, Contract: &c})
}

func (w *WSConn) CancelMktData(reqID int64) error {
	return w.send(outFrame{Op: "cancelMktData", ReqID: reqID})
}

func (w *WSConn) ReqHistoricalData(reqID int64, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) error {
	return w.send(outFrame{
		Op: "reqHistoricalData", ReqID: reqID, Contract: &c,
		Duration: duration, BarSize: barSize, WhatToShow: whatToShow, UseRTH: useRTH, KeepUpToDate: keepUpToDate,
	})
}

func (w *WSConn) PlaceOrder(orderID int64, c contract.Contract, o contract.Order) error {
	return w.send(outFrame{Op: "placeOrder", OrderID: orderID, Contract: &c, Order: &o})
}

func (w *WSConn) CancelOrder(orderID int64) error {
	return w.send(outFrame{Op: "cancelOrder", OrderID: orderID})
}

func (w *WSConn) ReqAccountSummary(reqID int64, group string, tags []string) error {
	return w.send(outFrame{Op: "reqAccountSummary", ReqID: reqID, Group: group, Tags: tags})
}

// outFrame is the wire format written to the gateway.
type outFrame struct {
	Op           string             `json:"op"`
	ReqID        int64              `json:"reqId,omitempty"`
	OrderID      int64              `json:"orderId,omitempty"`
	Contract     *contract.Contract `json:"contract,omitempty"`
	Order        *contract.Order    `json:"order,omitempty"`
	Duration     string             `json:"duration,omitempty"`
	BarSize      string             `json:"barSize,omitempty"`
	WhatToShow   string             `json:"whatToShow,omitempty"`
	UseRTH       bool               `json:"useRth,omitempty"`
	KeepUpToDate bool               `json:"keepUpToDate,omitempty"`
	Group        string             `json:"group,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
}

// inFrame is the wire format read from the gateway.
type inFrame struct {
	Type         string                  `json:"type"`
	ReqID        int64                   `json:"reqId,omitempty"`
	OrderID      int64                   `json:"orderId,omitempty"`
	Code         int                     `json:"code,omitempty"`
	Message      string                  `json:"message,omitempty"`
	Providers    []contract.NewsProvider `json:"providers,omitempty"`
	Headline     string                  `json:"headline,omitempty"`
	TickType     int                     `json:"tickType,omitempty"`
	Price        float64                 `json:"price,omitempty"`
	Size         float64                 `json:"size,omitempty"`
	Bar          *contract.Bar           `json:"bar,omitempty"`
	Status       string                  `json:"status,omitempty"`
	Filled       float64                 `json:"filled,omitempty"`
	Remaining    float64                 `json:"remaining,omitempty"`
	AvgFillPrice float64                 `json:"avgFillPrice,omitempty"`
	Account      string                  `json:"account,omitempty"`
	Position     *contract.PositionRow   `json:"position,omitempty"`
	AccountValue *contract.AccountValue  `json:"accountValue,omitempty"`
}
