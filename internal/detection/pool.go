package detection

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// Pool is the Detection Engine Worker Pool. Worker lifetime matches the
// bridge lifetime: cancelling the pool's context cancels in-flight
// façade calls.
type Pool struct {
	facade    Facade
	indicator Indicator
	cfg       config.DetectionConfig
	in        <-chan bridge.TickerEvent
	out       chan bridge.TradeSignal
	logger    *slog.Logger

	wg      sync.WaitGroup
	emitted int64
}

// EmittedCount reports how many TradeSignals have been emitted, for
// telemetry.
func (p *Pool) EmittedCount() int64 { return atomic.LoadInt64(&p.emitted) }

// New builds a Pool reading ticker events from in and emitting trade
// signals on the channel returned by Signals.
func New(facade Facade, indicator Indicator, cfg config.DetectionConfig, in <-chan bridge.TickerEvent, logger *slog.Logger) *Pool {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 5
	}
	if cfg.BarCount <= 0 {
		cfg.BarCount = 30
	}
	if cfg.BarSize == "" {
		cfg.BarSize = "1 min"
	}
	if indicator == nil {
		indicator = ShockIndicator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		facade:    facade,
		indicator: indicator,
		cfg:       cfg,
		in:        in,
		out:       make(chan bridge.TradeSignal, cfg.WorkerCount),
		logger:    logger,
	}
}

// Signals returns the channel the Execution Worker drains.
func (p *Pool) Signals() <-chan bridge.TradeSignal { return p.out }

// Run starts the configured number of workers and blocks until ctx is
// cancelled and every worker has exited.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.in:
			if !ok {
				return
			}
			p.evaluate(ctx, event)
		}
	}
}

func (p *Pool) evaluate(ctx context.Context, event bridge.TickerEvent) {
	c := contract.Contract{Symbol: event.Symbol, SecType: "STK"}

	// keepUpToDate is false here: the worker pool re-fetches a fresh
	// bar window on every ticker event rather than holding a live
	// stream open per symbol, so a one-shot aggregation is enough for
	// the shock predicate.
	bars, _, err := p.facade.FetchHistoricalData(ctx, c, barDuration(p.cfg.BarCount), p.cfg.BarSize, "TRADES", true, false)
	if err != nil {
		if isTimeoutOrDisconnected(err) {
			p.logger.Debug("detection: historical fetch skipped", "symbol", event.Symbol, "error", err)
			return
		}
		p.logger.Warn("detection: historical fetch failed", "symbol", event.Symbol, "error", err)
		return
	}

	snapshot, err := p.facade.RequestMarketSnapshot(ctx, c)
	if err != nil {
		if isTimeoutOrDisconnected(err) {
			p.logger.Debug("detection: snapshot skipped", "symbol", event.Symbol, "error", err)
			return
		}
		p.logger.Warn("detection: snapshot failed", "symbol", event.Symbol, "error", err)
		return
	}

	if !p.indicator.IsShock(bars, snapshot, p.cfg.PriceMultiplier, p.cfg.VolumeMultiplier) {
		return
	}

	last := bars[len(bars)-1]
	side := contract.ActionBuy
	if snapshot < last.Close {
		side = contract.ActionSell
	}

	signal := bridge.TradeSignal{
		Symbol:    event.Symbol,
		Side:      side,
		Price:     snapshot,
		Timestamp: event.Timestamp,
	}

	select {
	case p.out <- signal:
		atomic.AddInt64(&p.emitted, 1)
	case <-ctx.Done():
	}
}

// barDuration builds the broker SDK's duration string for barCount
// one-bar-each requests (e.g. "30 M" for thirty one-minute bars).
func barDuration(barCount int) string {
	return strconv.Itoa(barCount) + " M"
}
