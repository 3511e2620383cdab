// Package position implements the Position Manager: a ticker that
// periodically snapshots open positions, applies take-profit/stop-loss
// thresholds, and submits offsetting orders through the Bridge Façade
// when a threshold fires.
package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/shockfeed/broker-bridge/internal/bridge"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
	"github.com/shockfeed/broker-bridge/internal/store"
)

// Facade is the subset of the Bridge Façade the position manager calls.
type Facade interface {
	RequestMarketSnapshot(ctx context.Context, c contract.Contract) (float64, error)
	PlaceOrder(ctx context.Context, c contract.Contract, o contract.Order) (int64, *bridge.Subscription, error)
}

// StateReader reports whether the bridge is currently OPERATIONAL.
type StateReader interface {
	State() bridge.State
}

// Store is the subset of the persistence boundary the position manager
// reads and writes.
type Store interface {
	OpenPositions() ([]store.PositionRecord, error)
	UpsertPosition(p store.PositionRecord) error
}

// Manager ticks on an interval, closing positions that cross their
// take-profit or stop-loss threshold.
type Manager struct {
	facade Facade
	bridge StateReader
	store  Store
	cfg    config.PositionManagerConfig
	logger *slog.Logger
}

// New builds a Manager.
func New(facade Facade, bridgeState StateReader, s Store, cfg config.PositionManagerConfig, logger *slog.Logger) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if cfg.TakeProfit == 0 {
		cfg.TakeProfit = 500
	}
	if cfg.StopLoss == 0 {
		cfg.StopLoss = -200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{facade: facade, bridge: bridgeState, store: s, cfg: cfg, logger: logger}
}

// Run ticks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if m.bridge.State() != bridge.Operational {
		m.logger.Debug("position: skipping tick, bridge not operational")
		return
	}

	positions, err := m.store.OpenPositions()
	if err != nil {
		m.logger.Warn("position: list open positions failed", "error", err)
		return
	}

	for _, p := range positions {
		m.evaluate(ctx, p)
	}
}

func (m *Manager) evaluate(ctx context.Context, p store.PositionRecord) {
	c := contract.Contract{Symbol: p.Symbol, SecType: "STK"}

	price, err := m.facade.RequestMarketSnapshot(ctx, c)
	if err != nil {
		m.logger.Debug("position: snapshot failed", "symbol", p.Symbol, "error", err)
		return
	}

	pnl := (price - p.AvgCost) * p.Quantity
	if pnl < m.cfg.TakeProfit && pnl > m.cfg.StopLoss {
		return
	}

	action := contract.ActionSell
	if p.Quantity < 0 {
		action = contract.ActionBuy
	}
	order := contract.MarketOrder(action, int(absFloat(p.Quantity)))

	if _, _, err := m.facade.PlaceOrder(ctx, c, order); err != nil {
		m.logger.Warn("position: offsetting order failed", "symbol", p.Symbol, "error", err)
		return
	}

	now := time.Now()
	p.Status = store.PositionClosed
	p.ExitAt = &now
	p.RealizedPnL = pnl
	if err := m.store.UpsertPosition(p); err != nil {
		m.logger.Warn("position: close position record failed", "symbol", p.Symbol, "error", err)
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
