package broker

import (
	"context"
	"sync"

	"github.com/shockfeed/broker-bridge/internal/contract"
)

// Fake is an in-memory Conn double for tests and local development
// without a real broker gateway. It records every outbound call and
// lets the caller inject inbound callbacks synchronously, mirroring the
// script-driven scenarios in the bridge design notes (inject
// NextValidID, inject bars, inject an error, etc).
type Fake struct {
	mu  sync.Mutex
	cb  Callbacks
	log []FakeCall

	closed    bool
	closeOnce sync.Once
	runDone   chan struct{}
}

// FakeCall records one outbound operation the dispatcher issued.
type FakeCall struct {
	Op           string
	ReqID        int64
	OrderID      int64
	Contract     contract.Contract
	Order        contract.Order
	KeepUpToDate bool
}

// NewFake creates a Fake not yet bound to a Callbacks implementation.
// SetCallbacks must be called (normally by bridge.New)
// before injecting events.
func NewFake() *Fake {
	return &Fake{runDone: make(chan struct{})}
}

// SetCallbacks binds the adapter that inbound injections are delivered
// to. Safe to call once, before Run.
func (f *Fake) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *Fake) Connect(ctx context.Context, host string, port int, clientID int) error {
	return nil
}

// Run blocks until ctx is cancelled or Disconnect is called, simulating
// the vendor SDK's pump loop. Fake has no real transport to read, so it
// simply waits.
func (f *Fake) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.runDone:
		return nil
	}
}

func (f *Fake) Disconnect() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.runDone)
	})
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb.ConnectionClosed()
	}
	return nil
}

func (f *Fake) record(c FakeCall) {
	f.mu.Lock()
	f.log = append(f.log, c)
	f.mu.Unlock()
}

// Calls returns a snapshot of every outbound call recorded so far.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.log))
	copy(out, f.log)
	return out
}

func (f *Fake) ReqNewsProviders(reqID int64) error {
	f.record(FakeCall{Op: "ReqNewsProviders", ReqID: reqID})
	return nil
}

func (f *Fake) ReqMktDataNews(reqID int64, c contract.Contract) error {
	f.record(FakeCall{Op: "ReqMktDataNews", ReqID: reqID, Contract: c})
	return nil
}

func (f *Fake) ReqMktDataSnapshot(reqID int64, c contract.Contract) error {
	f.record(FakeCall{Op: "ReqMktDataSnapshot", ReqID: reqID, Contract: c})
	return nil
}

func (f *Fake) CancelMktData(reqID int64) error {
	f.record(FakeCall{Op: "CancelMktData", ReqID: reqID})
	return nil
}

func (f *Fake) ReqHistoricalData(reqID int64, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) error {
	f.record(FakeCall{Op: "ReqHistoricalData", ReqID: reqID, Contract: c, KeepUpToDate: keepUpToDate})
	return nil
}

func (f *Fake) PlaceOrder(orderID int64, c contract.Contract, o contract.Order) error {
	f.record(FakeCall{Op: "PlaceOrder", OrderID: orderID, Contract: c, Order: o})
	return nil
}

func (f *Fake) CancelOrder(orderID int64) error {
	f.record(FakeCall{Op: "CancelOrder", OrderID: orderID})
	return nil
}

func (f *Fake) ReqAccountSummary(reqID int64, group string, tags []string) error {
	f.record(FakeCall{Op: "ReqAccountSummary", ReqID: reqID})
	return nil
}

// --- injection helpers, used directly by test scripts ---

func (f *Fake) InjectNextValidID(orderID int64) { f.cb.NextValidID(orderID) }
func (f *Fake) InjectConnectAck()               { f.cb.ConnectAck() }
func (f *Fake) InjectError(reqID int64, code int, message string) {
	f.cb.Error(reqID, code, message)
}
func (f *Fake) InjectNewsProviders(providers []contract.NewsProvider) {
	f.cb.NewsProviders(providers)
}
func (f *Fake) InjectTickNews(reqID int64, headline string) {
	f.cb.TickNews(reqID, headline)
}
func (f *Fake) InjectTickPrice(reqID int64, tickType int, price float64) {
	f.cb.TickPrice(reqID, tickType, price)
}
func (f *Fake) InjectHistoricalBar(reqID int64, bar contract.Bar) {
	f.cb.HistoricalData(reqID, bar)
}
func (f *Fake) InjectHistoricalDataEnd(reqID int64) {
	f.cb.HistoricalDataEnd(reqID)
}
func (f *Fake) InjectOrderStatus(orderID int64, status string, filled, remaining, avgFillPrice float64) {
	f.cb.OrderStatus(orderID, status, filled, remaining, avgFillPrice)
}
func (f *Fake) InjectAccountSummary(reqID int64, value contract.AccountValue) {
	f.cb.AccountSummary(reqID, value)
}
func (f *Fake) InjectAccountSummaryEnd(reqID int64) {
	f.cb.AccountSummaryEnd(reqID)
}
