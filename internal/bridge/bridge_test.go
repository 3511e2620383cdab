package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/shockfeed/broker-bridge/internal/broker"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// testBridge wires a Bridge around a broker.Fake and connects it,
// injecting NEXT_VALID_ID shortly after Connect is called, mirroring
// scenario 1's script.
func testBridge(t *testing.T, seed int64) (*Bridge, *broker.Fake) {
	t.Helper()
	fake := broker.NewFake()
	cfg := config.Default().Broker
	b := New(cfg, fake, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.InjectNextValidID(seed)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Connect(ctx, "127.0.0.1", 4002, 25); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { b.Disconnect() })
	return b, fake
}

func TestConnectAndListProviders(t *testing.T) {
	b, fake := testBridge(t, 42)

	if b.State() != Operational {
		t.Fatalf("state = %v, want OPERATIONAL", b.State())
	}

	resultCh := make(chan []contract.NewsProvider, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		providers, err := b.RequestNewsProviders(ctx)
		resultCh <- providers
		errCh <- err
	}()

	// Wait until the request has actually reached the fake before
	// injecting the reply.
	waitForCall(t, fake, "ReqNewsProviders")
	fake.InjectNewsProviders([]contract.NewsProvider{
		{Code: "BZ", Name: "Benzinga"},
		{Code: "BRFG", Name: "Briefing"},
	})

	if err := <-errCh; err != nil {
		t.Fatalf("RequestNewsProviders: %v", err)
	}
	providers := <-resultCh
	if len(providers) != 2 {
		t.Fatalf("len(providers) = %d, want 2", len(providers))
	}
	if providers[0].Code != "BZ" {
		t.Errorf("providers[0].Code = %q, want BZ", providers[0].Code)
	}

	first, err := b.ids.nextOrderIDValue()
	if err != nil || first != 42 {
		t.Errorf("first order id = %d, err %v; want 42, nil", first, err)
	}
	second, err := b.ids.nextOrderIDValue()
	if err != nil || second != 43 {
		t.Errorf("second order id = %d, err %v; want 43, nil", second, err)
	}
}

func TestHistoricalFetchAggregation(t *testing.T) {
	b, fake := testBridge(t, 1)

	resCh := make(chan []contract.Bar, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bars, _, err := b.FetchHistoricalData(ctx, contract.Contract{Symbol: "AAPL"}, "30 M", "1 min", "TRADES", true, false)
		resCh <- bars
		errCh <- err
	}()

	waitForCall(t, fake, "ReqHistoricalData")
	calls := fake.Calls()
	reqID := calls[len(calls)-1].ReqID

	t0 := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		fake.InjectHistoricalBar(reqID, contract.Bar{Date: t0.Add(time.Duration(i) * time.Minute), Close: 100 + float64(i)})
	}
	fake.InjectHistoricalDataEnd(reqID)

	if err := <-errCh; err != nil {
		t.Fatalf("FetchHistoricalData: %v", err)
	}
	bars := <-resCh
	if len(bars) != 3 {
		t.Fatalf("len(bars) = %d, want 3", len(bars))
	}
	for i, bar := range bars {
		want := t0.Add(time.Duration(i) * time.Minute)
		if !bar.Date.Equal(want) {
			t.Errorf("bars[%d].Date = %v, want %v", i, bar.Date, want)
		}
	}
	if b.registry.contains(reqID) {
		t.Error("registry entry still present after completion")
	}
}

func TestHistoricalFetchKeepUpToDateStreamsRealTimeBars(t *testing.T) {
	b, fake := testBridge(t, 1)

	resCh := make(chan []contract.Bar, 1)
	subCh := make(chan *Subscription, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bars, sub, err := b.FetchHistoricalData(ctx, contract.Contract{Symbol: "AAPL"}, "30 M", "1 min", "TRADES", true, true)
		resCh <- bars
		subCh <- sub
		errCh <- err
	}()

	waitForCall(t, fake, "ReqHistoricalData")
	calls := fake.Calls()
	call := calls[len(calls)-1]
	if !call.KeepUpToDate {
		t.Fatal("ReqHistoricalData called with KeepUpToDate = false, want true")
	}
	reqID := call.ReqID

	fake.InjectHistoricalBar(reqID, contract.Bar{Close: 100})
	fake.InjectHistoricalDataEnd(reqID)

	if err := <-errCh; err != nil {
		t.Fatalf("FetchHistoricalData: %v", err)
	}
	bars := <-resCh
	if len(bars) != 1 {
		t.Fatalf("len(bars) = %d, want 1", len(bars))
	}
	sub := <-subCh
	if sub == nil {
		t.Fatal("expected a non-nil Subscription when keepUpToDate is true")
	}
	if sub.Kind != StreamBar {
		t.Errorf("sub.Kind = %v, want StreamBar", sub.Kind)
	}

	// Once the aggregation terminates, further bars under the same
	// reqId are real-time updates delivered through the fan-out rather
	// than appended to the (already-returned) historical slice.
	fake.InjectHistoricalBar(reqID, contract.Bar{Close: 101})

	select {
	case msg := <-sub.Ch:
		if msg.Bar.Close != 101 {
			t.Errorf("streamed bar Close = %v, want 101", msg.Bar.Close)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a real-time bar update")
	}

	if err := b.CancelSubscription(reqID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
}

func TestHistoricalFetchTimeoutWithoutTerminator(t *testing.T) {
	cfg := config.Default().Broker
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.HistoricalDataTimeout = 50 * time.Millisecond
	fake := broker.NewFake()
	b := New(cfg, fake, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		fake.InjectNextValidID(1)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Connect(ctx, "127.0.0.1", 4002, 1); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { b.Disconnect() })

	errCh := make(chan error, 1)
	go func() {
		fctx, fcancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer fcancel()
		_, _, err := b.FetchHistoricalData(fctx, contract.Contract{Symbol: "AAPL"}, "30 M", "1 min", "TRADES", true, false)
		errCh <- err
	}()

	waitForCall(t, fake, "ReqHistoricalData")
	calls := fake.Calls()
	reqID := calls[len(calls)-1].ReqID
	fake.InjectHistoricalBar(reqID, contract.Bar{Close: 1})
	fake.InjectHistoricalBar(reqID, contract.Bar{Close: 2})
	// Deliberately never inject HistoricalDataEnd.

	select {
	case err := <-errCh:
		if err != ErrTimeout {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for FetchHistoricalData to fail")
	}

	if b.registry.contains(reqID) {
		t.Error("registry entry still present after timeout")
	}
}

func TestCancelStreamingSubscription(t *testing.T) {
	b, fake := testBridge(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := b.SubscribeNewsFeed(ctx, "BRFG")
	if err != nil {
		t.Fatalf("SubscribeNewsFeed: %v", err)
	}

	waitForCall(t, fake, "ReqMktDataNews")

	for i := 0; i < 3; i++ {
		fake.InjectTickNews(sub.ReqID, "headline")
	}

	received := 0
	for received < 3 {
		select {
		case <-sub.Ch:
			received++
		case <-time.After(time.Second):
			t.Fatalf("only received %d/3 news ticks", received)
		}
	}

	if err := b.CancelSubscription(sub.ReqID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}

	fake.InjectTickNews(sub.ReqID, "post-cancel headline")
	select {
	case <-sub.Ch:
		t.Fatal("received a message after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderIDSequencing(t *testing.T) {
	b, _ := testBridge(t, 100)

	type result struct {
		id  int64
		err error
	}
	resCh := make(chan result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			id, _, err := b.PlaceOrder(ctx, contract.Contract{Symbol: "AAPL"}, contract.MarketOrder(contract.ActionBuy, 10))
			resCh <- result{id, err}
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < 4; i++ {
		r := <-resCh
		if r.err != nil {
			t.Fatalf("PlaceOrder: %v", r.err)
		}
		if seen[r.id] {
			t.Fatalf("duplicate order id %d", r.id)
		}
		seen[r.id] = true
	}
	for id := int64(100); id < 104; id++ {
		if !seen[id] {
			t.Errorf("missing order id %d", id)
		}
	}
}

func TestRequestAccountSummary(t *testing.T) {
	b, fake := testBridge(t, 1)

	resCh := make(chan []contract.AccountValue, 1)
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		values, err := b.RequestAccountSummary(ctx, "All", []string{"NetLiquidation", "BuyingPower"})
		resCh <- values
		errCh <- err
	}()

	waitForCall(t, fake, "ReqAccountSummary")
	calls := fake.Calls()
	reqID := calls[len(calls)-1].ReqID

	fake.InjectAccountSummary(reqID, contract.AccountValue{Tag: "NetLiquidation", Value: "100000", Currency: "USD"})
	fake.InjectAccountSummary(reqID, contract.AccountValue{Tag: "BuyingPower", Value: "200000", Currency: "USD"})
	fake.InjectAccountSummaryEnd(reqID)

	if err := <-errCh; err != nil {
		t.Fatalf("RequestAccountSummary: %v", err)
	}
	values := <-resCh
	if len(values) != 2 {
		t.Fatalf("len(values) = %d, want 2", len(values))
	}
	if values[0].Tag != "NetLiquidation" || values[1].Tag != "BuyingPower" {
		t.Errorf("values = %+v, want NetLiquidation then BuyingPower in order", values)
	}
}

func TestInformationalErrorSuppressed(t *testing.T) {
	b, fake := testBridge(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resCh := make(chan []contract.NewsProvider, 1)
	errCh := make(chan error, 1)
	go func() {
		providers, err := b.RequestNewsProviders(ctx)
		resCh <- providers
		errCh <- err
	}()
	waitForCall(t, fake, "ReqNewsProviders")

	fake.InjectError(-1, 2104, "Market data farm connection is OK")

	// The informational error must not touch the outstanding request;
	// it should still be there to complete normally afterward.
	time.Sleep(20 * time.Millisecond)
	if !b.registry.contains(b.lastNewsProvidersReqID()) {
		t.Fatal("registry entry for news providers request was disturbed by an informational error")
	}

	fake.InjectNewsProviders([]contract.NewsProvider{{Code: "BZ", Name: "Benzinga"}})
	if err := <-errCh; err != nil {
		t.Fatalf("RequestNewsProviders: %v", err)
	}
	if len(<-resCh) != 1 {
		t.Fatal("expected the news providers result to still arrive")
	}
}

// lastNewsProvidersReqID exposes the single in-flight reserved-id
// context's RequestId for the informational-error test above.
func (b *Bridge) lastNewsProvidersReqID() int64 {
	b.registry.mu.Lock()
	defer b.registry.mu.Unlock()
	if ctx, ok := b.registry.byKind[KindNewsProviders]; ok {
		return ctx.reqID
	}
	return -1
}

// waitForCall polls the fake's call log until op has been recorded.
func waitForCall(t *testing.T, fake *broker.Fake, op string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, c := range fake.Calls() {
			if c.Op == op {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for fake call %q", op)
}
