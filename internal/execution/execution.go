// Package execution implements the Execution Worker: it drains trade
// signals from the Detection Engine, places a fixed-quantity market
// order through the Bridge Façade, and waits for the resulting
// ORDER_STATUS stream to reach a terminal state so the fill can be
// recorded.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
	"github.com/shockfeed/broker-bridge/internal/store"
)

// Facade is the subset of the Bridge Façade the execution worker calls.
type Facade interface {
	PlaceOrder(ctx context.Context, c contract.Contract, o contract.Order) (int64, *bridge.Subscription, error)
}

// Recorder is the subset of the store the execution worker writes to.
type Recorder interface {
	InsertTrade(t store.TradeRecord) error
	UpdateTradeStatus(orderID int64, status string) error
	UpsertPosition(p store.PositionRecord) error
}

// Terminal ORDER_STATUS values. Anything else is treated as an
// intermediate update and the worker keeps waiting.
const (
	statusFilled    = "Filled"
	statusCancelled = "Cancelled"
	statusInactive  = "Inactive"
)

func isTerminal(status string) bool {
	switch status {
	case statusFilled, statusCancelled, statusInactive:
		return true
	default:
		return false
	}
}

// Worker consumes bridge.TradeSignals and places orders.
type Worker struct {
	facade Facade
	store  Recorder
	cfg    config.ExecutionConfig
	in     <-chan bridge.TradeSignal
	logger *slog.Logger
}

// New builds a Worker reading signals from in.
func New(facade Facade, recorder Recorder, cfg config.ExecutionConfig, in <-chan bridge.TradeSignal, logger *slog.Logger) *Worker {
	if cfg.OrderQuantity <= 0 {
		cfg.OrderQuantity = 100
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{facade: facade, store: recorder, cfg: cfg, in: in, logger: logger}
}

// Run drains signals until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-w.in:
			if !ok {
				return
			}
			w.execute(ctx, signal)
		}
	}
}

func (w *Worker) execute(ctx context.Context, signal bridge.TradeSignal) {
	c := contract.Contract{Symbol: signal.Symbol, SecType: "STK"}
	order := contract.MarketOrder(signal.Side, w.cfg.OrderQuantity)

	orderID, sub, err := w.facade.PlaceOrder(ctx, c, order)
	if err != nil {
		w.logger.Warn("execution: place order failed", "symbol", signal.Symbol, "error", err)
		return
	}

	if err := w.store.InsertTrade(store.TradeRecord{
		ID:       store.NewID(),
		Symbol:   signal.Symbol,
		Side:     signal.Side,
		Quantity: w.cfg.OrderQuantity,
		Price:    signal.Price,
		OrderID:  orderID,
		Status:   "SUBMITTED",
		PlacedAt: signal.Timestamp,
	}); err != nil {
		w.logger.Warn("execution: insert trade record failed", "order_id", orderID, "error", err)
	}

	status, fillErr := w.awaitFill(ctx, sub)
	if fillErr != nil {
		w.logger.Warn("execution: fill wait failed", "symbol", signal.Symbol, "order_id", orderID, "error", fillErr)
		return
	}

	if err := w.store.UpdateTradeStatus(orderID, status); err != nil {
		w.logger.Warn("execution: update trade status failed", "order_id", orderID, "error", err)
	}

	if status != statusFilled {
		return
	}

	if err := w.store.UpsertPosition(store.PositionRecord{
		ID:       store.NewID(),
		Symbol:   signal.Symbol,
		Quantity: signedQuantity(signal.Side, w.cfg.OrderQuantity),
		AvgCost:  signal.Price,
		Status:   store.PositionOpen,
		EntryAt:  signal.Timestamp,
	}); err != nil {
		w.logger.Warn("execution: open position record failed", "symbol", signal.Symbol, "error", err)
	}
}

// awaitFill drains sub.Ch until a terminal ORDER_STATUS arrives, the
// configured fill timeout elapses, or ctx is cancelled. Errors from the
// façade (Timeout, Disconnected) are the caller's concern, not this
// function's — this only watches the stream it was handed.
func (w *Worker) awaitFill(ctx context.Context, sub *bridge.Subscription) (string, error) {
	deadline := time.NewTimer(w.cfg.FillTimeout)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return "", bridge.ErrDisconnected
			}
			if isTerminal(msg.Status) {
				return msg.Status, nil
			}
		case <-deadline.C:
			return "", errors.New("execution: timed out waiting for a terminal order status")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func signedQuantity(side string, quantity int) float64 {
	if side == contract.ActionSell {
		return -float64(quantity)
	}
	return float64(quantity)
}
