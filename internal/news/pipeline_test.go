package news

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
)

func TestMarkupExtractorFindsTaggedTickers(t *testing.T) {
	ext := NewMarkupExtractor()
	payload := `<div><ticker>AAPL</ticker><span data-ticker="MSFT, GOOG">news body</span></div>`

	tickers, err := ext.Extract(context.Background(), payload)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := map[string]bool{"AAPL": true, "MSFT": true, "GOOG": true}
	if len(tickers) != len(want) {
		t.Fatalf("tickers = %v, want 3 entries", tickers)
	}
	for _, tk := range tickers {
		if !want[tk] {
			t.Errorf("unexpected ticker %q", tk)
		}
	}
}

func TestMarkupExtractorIgnoresNonTickerText(t *testing.T) {
	ext := NewMarkupExtractor()
	tickers, err := ext.Extract(context.Background(), `<p>Markets rallied broadly today</p>`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(tickers) != 0 {
		t.Errorf("tickers = %v, want none", tickers)
	}
}

func TestClassifierExtractorValidatesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization header = %q, want Bearer secret", got)
		}

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if req.Model != "gpt-3.5-turbo" {
			t.Errorf("Model = %q, want gpt-3.5-turbo", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("Messages = %+v, want a single user message", req.Messages)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("ResponseFormat.Type = %q, want json_object", req.ResponseFormat.Type)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"[\"AAPL\",\"toolong123\",\"msft\",\"X\"]"}}]}`))
	}))
	defer srv.Close()

	ext := NewClassifierExtractor(srv.URL, "", "secret", 2*time.Second)
	tickers, err := ext.Extract(context.Background(), "Apple reports earnings")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := map[string]bool{"AAPL": true, "X": true}
	if len(tickers) != len(want) {
		t.Fatalf("tickers = %v, want %v", tickers, want)
	}
	for _, tk := range tickers {
		if !want[tk] {
			t.Errorf("unexpected ticker %q (should have been filtered)", tk)
		}
	}
}

func TestClassifierExtractorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	ext := NewClassifierExtractor(srv.URL, "", "", time.Second)
	if _, err := ext.Extract(context.Background(), "payload"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

// stubExtractor returns a fixed ticker list for every payload.
type stubExtractor struct {
	tickers []string
	err     error
}

func (s stubExtractor) Extract(ctx context.Context, payload string) ([]string, error) {
	return s.tickers, s.err
}

func TestPipelineDedupesWithinWindow(t *testing.T) {
	p := New(stubExtractor{tickers: []string{"AAPL"}}, time.Hour, 10, nil)
	sub := &bridge.Subscription{Ch: make(chan bridge.Message, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx, "BZ", sub)

	sub.Ch <- bridge.Message{Type: bridge.NewsTick, Headline: "Apple news one"}
	sub.Ch <- bridge.Message{Type: bridge.NewsTick, Headline: "Apple news two"}

	select {
	case ev := <-p.Events():
		if ev.Symbol != "AAPL" || ev.Provider != "BZ" {
			t.Errorf("event = %+v, want Symbol=AAPL Provider=BZ", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the first TickerEvent")
	}

	select {
	case ev := <-p.Events():
		t.Fatalf("received a second event %+v within the dedup window", ev)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
}

func TestPipelineDropsOnExtractionFailure(t *testing.T) {
	p := New(stubExtractor{err: context.DeadlineExceeded}, time.Minute, 10, nil)
	sub := &bridge.Subscription{Ch: make(chan bridge.Message, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, "BZ", sub)

	sub.Ch <- bridge.Message{Type: bridge.NewsTick, Headline: "garbled payload"}

	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %+v for a failed extraction", ev)
	case <-time.After(100 * time.Millisecond):
	}

	if p.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", p.DroppedCount())
	}
}
