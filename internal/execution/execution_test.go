package execution

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
	"github.com/shockfeed/broker-bridge/internal/store"
)

type stubFacade struct {
	orderID int64
	ch      chan bridge.Message
	err     error
}

func (s *stubFacade) PlaceOrder(ctx context.Context, c contract.Contract, o contract.Order) (int64, *bridge.Subscription, error) {
	if s.err != nil {
		return 0, nil, s.err
	}
	return s.orderID, &bridge.Subscription{ReqID: s.orderID, Kind: bridge.StreamOrderStatus, Ch: s.ch}, nil
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestWorkerRecordsFilledOrderAsOpenPosition(t *testing.T) {
	ch := make(chan bridge.Message, 2)
	facade := &stubFacade{orderID: 55, ch: ch}
	s := setupTestStore(t)

	in := make(chan bridge.TradeSignal, 1)
	cfg := config.ExecutionConfig{OrderQuantity: 10, FillTimeout: time.Second}
	w := New(facade, s, cfg, in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	in <- bridge.TradeSignal{Symbol: "AAPL", Side: contract.ActionBuy, Price: 190, Timestamp: time.Now()}

	ch <- bridge.Message{Type: bridge.OrderStatus, OrderID: 55, Status: "Submitted"}
	ch <- bridge.Message{Type: bridge.OrderStatus, OrderID: 55, Status: "Filled", Filled: 10}

	waitForOpenPosition(t, s, "AAPL")

	cancel()
	<-done
}

func TestWorkerDropsSignalWhenPlaceOrderFails(t *testing.T) {
	facade := &stubFacade{err: bridge.ErrDisconnected}
	s := setupTestStore(t)

	in := make(chan bridge.TradeSignal, 1)
	w := New(facade, s, config.ExecutionConfig{FillTimeout: 50 * time.Millisecond}, in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	in <- bridge.TradeSignal{Symbol: "MSFT", Side: contract.ActionBuy, Price: 300, Timestamp: time.Now()}

	time.Sleep(100 * time.Millisecond)
	positions, err := s.OpenPositions()
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no position to be recorded after a PlaceOrder failure, got %d", len(positions))
	}

	cancel()
	<-done
}

func waitForOpenPosition(t *testing.T, s *store.Store, symbol string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		positions, err := s.OpenPositions()
		if err != nil {
			t.Fatalf("open positions: %v", err)
		}
		for _, p := range positions {
			if p.Symbol == symbol {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for an open position for %s", symbol)
}
