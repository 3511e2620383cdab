// Package telemetry publishes bridge operating stats to an MQTT broker.
// It is optional: when disabled in configuration, the bridge runs with
// no telemetry publisher at all.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/shockfeed/broker-bridge/internal/config"
)

// Stats is the set of counters the publisher reports each interval.
// The concrete adapter is wired by the caller (cmd/bridge) so this
// package stays independent of the bridge/detection/fanout internals.
type Stats interface {
	// BridgeState returns the bridge's current state as a string
	// ("DISCONNECTED", "CONNECTING", "OPERATIONAL").
	BridgeState() string
	// DroppedMessages returns the cumulative count of messages the
	// streaming fan-out has dropped under backpressure.
	DroppedMessages() int64
	// TickersDetected returns the cumulative count of ticker events the
	// news pipeline has emitted.
	TickersDetected() int64
	// SignalsEmitted returns the cumulative count of trade signals the
	// detection engine has emitted.
	SignalsEmitted() int64
}

type snapshot struct {
	BridgeState     string `json:"bridge_state"`
	DroppedMessages int64  `json:"dropped_messages"`
	TickersDetected int64  `json:"tickers_detected"`
	SignalsEmitted  int64  `json:"signals_emitted"`
}

// Publisher periodically publishes a Stats snapshot to a fixed MQTT
// topic as a retained JSON message.
type Publisher struct {
	cfg    config.TelemetryConfig
	stats  Stats
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New builds a Publisher. Calling Start is required to actually connect.
func New(cfg config.TelemetryConfig, stats Stats, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, stats: stats, logger: logger}
}

// Start connects to the configured broker and publishes a stats
// snapshot every 10 seconds until ctx is cancelled. A no-op if
// telemetry is disabled in configuration.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		return nil
	}

	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse telemetry broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("telemetry connected", "broker", p.cfg.BrokerURL)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("telemetry connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("telemetry connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("telemetry initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	payload, err := json.Marshal(snapshot{
		BridgeState:     p.stats.BridgeState(),
		DroppedMessages: p.stats.DroppedMessages(),
		TickersDetected: p.stats.TickersDetected(),
		SignalsEmitted:  p.stats.SignalsEmitted(),
	})
	if err != nil {
		p.logger.Error("telemetry marshal snapshot", "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.cfg.Topic,
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("telemetry publish failed", "error", err)
	}
}
