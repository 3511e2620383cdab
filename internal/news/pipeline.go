package news

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
)

// providerFeed pairs a provider code with the Subscription delivering
// its raw NEWS stream.
type providerFeed struct {
	code string
	sub  *bridge.Subscription
}

// Pipeline is the News Ingestion Pipeline: it drains one or more
// provider NEWS subscriptions, extracts candidate tickers from each
// payload, and emits de-duplicated TickerEvents onto the detection
// channel.
type Pipeline struct {
	extractor Extractor
	dedup     *dedupWindow
	out       chan bridge.TickerEvent
	logger    *slog.Logger

	dropped int64 // accessed only via atomic; Run may execute in several provider goroutines
	emitted int64
}

// New builds a Pipeline. dedupWindow is the rolling per-ticker
// suppression interval (0 uses a 60s default).
func New(extractor Extractor, dedupWindowDuration time.Duration, outBuffer int, logger *slog.Logger) *Pipeline {
	if dedupWindowDuration <= 0 {
		dedupWindowDuration = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		extractor: extractor,
		dedup:     newDedupWindow(dedupWindowDuration),
		out:       make(chan bridge.TickerEvent, outBuffer),
		logger:    logger,
	}
}

// Events returns the channel the Detection Engine Worker Pool drains.
func (p *Pipeline) Events() <-chan bridge.TickerEvent { return p.out }

// DroppedCount reports how many payloads were dropped for failing
// extraction, for telemetry.
func (p *Pipeline) DroppedCount() int64 { return atomic.LoadInt64(&p.dropped) }

// EmittedCount reports how many TickerEvents have been emitted, for
// telemetry.
func (p *Pipeline) EmittedCount() int64 { return atomic.LoadInt64(&p.emitted) }

// Run drains sub until ctx is cancelled or sub.Ch is closed, treating
// every delivered message's Headline as a raw news payload from
// providerCode. Intended to be started once per subscribed provider, in
// its own goroutine.
func (p *Pipeline) Run(ctx context.Context, providerCode string, sub *bridge.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Ch:
			if !ok {
				return
			}
			p.handle(ctx, providerCode, msg)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, providerCode string, msg bridge.Message) {
	tickers, err := p.extractor.Extract(ctx, msg.Headline)
	if err != nil {
		atomic.AddInt64(&p.dropped, 1)
		p.logger.Warn("news extraction failed, dropping payload", "provider", providerCode, "error", err)
		return
	}

	now := time.Now()
	for _, ticker := range tickers {
		if !p.dedup.allow(ticker, now) {
			continue
		}
		event := bridge.TickerEvent{
			Symbol:    ticker,
			Timestamp: now,
			Provider:  providerCode,
		}
		select {
		case p.out <- event:
			atomic.AddInt64(&p.emitted, 1)
		case <-ctx.Done():
			return
		}
	}
}
