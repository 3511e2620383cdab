package detection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// stubFacade returns fixed bars/snapshot/errors regardless of the
// contract requested, optionally recording calls for assertions.
type stubFacade struct {
	mu sync.Mutex

	bars        []contract.Bar
	historyErr  error
	snapshot    float64
	snapshotErr error

	calls int
}

func (s *stubFacade) FetchHistoricalData(ctx context.Context, c contract.Contract, duration, barSize, whatToShow string, useRTH, keepUpToDate bool) ([]contract.Bar, *bridge.Subscription, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.bars, nil, s.historyErr
}

func (s *stubFacade) RequestMarketSnapshot(ctx context.Context, c contract.Contract) (float64, error) {
	return s.snapshot, s.snapshotErr
}

func (s *stubFacade) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// alwaysShock reports every ticker as a shock, for testing the
// pool's plumbing independent of indicator math.
type alwaysShock struct{}

func (alwaysShock) IsShock(bars []contract.Bar, snapshot, priceMultiplier, volumeMultiplier float64) bool {
	return len(bars) > 0
}

func TestPoolEmitsSignalOnShock(t *testing.T) {
	facade := &stubFacade{
		bars:     []contract.Bar{{Close: 100, Volume: 1000}, {Close: 110, Volume: 2000}},
		snapshot: 115,
	}
	in := make(chan bridge.TickerEvent, 1)
	cfg := config.DetectionConfig{WorkerCount: 1}
	pool := New(facade, alwaysShock{}, cfg, in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	in <- bridge.TickerEvent{Symbol: "AAPL", Timestamp: time.Now(), Provider: "BZ"}

	select {
	case sig := <-pool.Signals():
		if sig.Symbol != "AAPL" {
			t.Errorf("Symbol = %q, want AAPL", sig.Symbol)
		}
		if sig.Side != contract.ActionBuy {
			t.Errorf("Side = %q, want BUY (snapshot above last close)", sig.Side)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a trade signal")
	}

	cancel()
	<-done
}

func TestPoolSkipsOnTimeoutWithoutCrashing(t *testing.T) {
	facade := &stubFacade{historyErr: bridge.ErrTimeout}
	in := make(chan bridge.TickerEvent, 1)
	cfg := config.DetectionConfig{WorkerCount: 1}
	pool := New(facade, alwaysShock{}, cfg, in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	in <- bridge.TickerEvent{Symbol: "MSFT", Timestamp: time.Now()}

	select {
	case sig := <-pool.Signals():
		t.Fatalf("unexpected signal %+v after a Timeout from the façade", sig)
	case <-time.After(100 * time.Millisecond):
	}

	if facade.callCount() != 1 {
		t.Errorf("FetchHistoricalData calls = %d, want 1", facade.callCount())
	}

	cancel()
	<-done
}

func flatBars(n int) []contract.Bar {
	bars := make([]contract.Bar, n)
	for i := range bars {
		bars[i] = contract.Bar{Close: 100, High: 101, Low: 99, Volume: 1000}
	}
	return bars
}

func TestShockIndicatorRequiresBothPriceAndVolume(t *testing.T) {
	ind := ShockIndicator{}
	bars := flatBars(19)

	if ind.IsShock(bars, 101, 3.0, 5.0) {
		t.Error("expected no shock: price move is tiny and volume is flat")
	}

	shockBars := append(flatBars(19), contract.Bar{Close: 100, High: 140, Low: 99, Volume: 7000})
	if !ind.IsShock(shockBars, 140, 3.0, 5.0) {
		t.Error("expected a shock: large price move combined with elevated last-bar volume")
	}
}
