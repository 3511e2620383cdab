package position

import (
	"context"
	"testing"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
	"github.com/shockfeed/broker-bridge/internal/store"
)

type stubFacade struct {
	snapshot    float64
	snapshotErr error
	placed      int
}

func (s *stubFacade) RequestMarketSnapshot(ctx context.Context, c contract.Contract) (float64, error) {
	return s.snapshot, s.snapshotErr
}

func (s *stubFacade) PlaceOrder(ctx context.Context, c contract.Contract, o contract.Order) (int64, *bridge.Subscription, error) {
	s.placed++
	return 1, &bridge.Subscription{Ch: make(chan bridge.Message, 1)}, nil
}

type fixedState struct{ state bridge.State }

func (f fixedState) State() bridge.State { return f.state }

type memStore struct {
	positions []store.PositionRecord
}

func (m *memStore) OpenPositions() ([]store.PositionRecord, error) {
	var out []store.PositionRecord
	for _, p := range m.positions {
		if p.Status == store.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpsertPosition(p store.PositionRecord) error {
	for i, existing := range m.positions {
		if existing.ID == p.ID {
			m.positions[i] = p
			return nil
		}
	}
	m.positions = append(m.positions, p)
	return nil
}

func TestTickClosesPositionOnTakeProfit(t *testing.T) {
	facade := &stubFacade{snapshot: 160}
	s := &memStore{positions: []store.PositionRecord{
		{ID: "1", Symbol: "AAPL", Quantity: 100, AvgCost: 150, Status: store.PositionOpen, EntryAt: time.Now()},
	}}
	m := New(facade, fixedState{bridge.Operational}, s, config.PositionManagerConfig{TakeProfit: 500, StopLoss: -200}, nil)

	m.tick(context.Background())

	if facade.placed != 1 {
		t.Fatalf("expected one offsetting order, got %d", facade.placed)
	}
	open, _ := s.OpenPositions()
	if len(open) != 0 {
		t.Errorf("expected position closed, still open: %+v", open)
	}
}

func TestTickLeavesPositionOpenWithinThresholds(t *testing.T) {
	facade := &stubFacade{snapshot: 151}
	s := &memStore{positions: []store.PositionRecord{
		{ID: "1", Symbol: "AAPL", Quantity: 100, AvgCost: 150, Status: store.PositionOpen, EntryAt: time.Now()},
	}}
	m := New(facade, fixedState{bridge.Operational}, s, config.PositionManagerConfig{TakeProfit: 500, StopLoss: -200}, nil)

	m.tick(context.Background())

	if facade.placed != 0 {
		t.Errorf("expected no offsetting order within thresholds, got %d", facade.placed)
	}
	open, _ := s.OpenPositions()
	if len(open) != 1 {
		t.Errorf("expected position to remain open, got %d", len(open))
	}
}

func TestTickSkipsWhenNotOperational(t *testing.T) {
	facade := &stubFacade{snapshot: 1000}
	s := &memStore{positions: []store.PositionRecord{
		{ID: "1", Symbol: "AAPL", Quantity: 100, AvgCost: 150, Status: store.PositionOpen, EntryAt: time.Now()},
	}}
	m := New(facade, fixedState{bridge.Disconnected}, s, config.PositionManagerConfig{TakeProfit: 500, StopLoss: -200}, nil)

	m.tick(context.Background())

	if facade.placed != 0 {
		t.Errorf("expected no façade calls while disconnected, got %d", facade.placed)
	}
}
