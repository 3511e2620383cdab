package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shockfeed/broker-bridge/internal/broker"
	"github.com/shockfeed/broker-bridge/internal/config"
	"github.com/shockfeed/broker-bridge/internal/contract"
)

// sweepFrequency is how often the registry's sweeper checks for expired
// contexts — at least 1 Hz per the registry's design.
const sweepFrequency = 100 * time.Millisecond

// connectTimeout bounds how long Connect waits for NEXT_VALID_ID.
const connectTimeout = 10 * time.Second

// newsProviderTimeout bounds RequestNewsProviders.
const newsProviderTimeout = 10 * time.Second

// Bridge is the Broker Bridge Core: it owns the identifier allocator,
// the pending-request registry, the streaming fan-out, the Incoming
// Event Router, and the Async Dispatcher Loop, and exposes the public
// façade operations above them.
type Bridge struct {
	conn   broker.Conn
	router *router

	registry *registry
	fanout   *fanOut
	ids      *idAllocator
	logger   *slog.Logger

	cfg config.BrokerConfig

	mu          sync.Mutex
	state       State
	connectedCh chan struct{}

	dispatcherDone chan struct{}
	sweeperStop    chan struct{}

	pumpCancel context.CancelFunc
	pumpErrCh  chan error
}

// New wires a Bridge around the given Conn (broker.NewWSConn for
// production, broker.NewFake for tests). The Conn must not already be
// bound to a Callbacks implementation.
func New(cfg config.BrokerConfig, conn broker.Conn, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		conn:     conn,
		router:   newRouter(cfg.IncomingBuffer, logger),
		registry: newRegistry(cfg.RequestTimeout),
		fanout:   newFanOut(),
		ids:      newIDAllocator(),
		logger:   logger,
		cfg:      cfg,
		state:    Disconnected,
	}
	conn.SetCallbacks(b.router)
	return b
}

// State reports the current bridge connection state. Advisory: it may
// change concurrently with the read.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// DroppedMessages reports the cumulative count of NEWS messages the
// streaming fan-out has dropped under backpressure, for telemetry.
func (b *Bridge) DroppedMessages() int64 {
	return b.fanout.Dropped()
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) signalConnected() {
	b.mu.Lock()
	ch := b.connectedCh
	b.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// Connect dials the broker, starts the dispatcher loop and registry
// sweeper, starts the SDK pump, and resolves once NEXT_VALID_ID has
// been observed and the bridge has transitioned to OPERATIONAL.
func (b *Bridge) Connect(ctx context.Context, host string, port, clientID int) error {
	b.mu.Lock()
	if b.state != Disconnected {
		b.mu.Unlock()
		return ErrAlreadyConnected
	}
	b.state = Connecting
	b.connectedCh = make(chan struct{})
	connectedCh := b.connectedCh
	b.mu.Unlock()

	if err := b.conn.Connect(ctx, host, port, clientID); err != nil {
		b.setState(Disconnected)
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}

	b.dispatcherDone = make(chan struct{})
	b.sweeperStop = make(chan struct{})
	go b.dispatchLoop()
	go b.registry.runSweeper(b.sweeperStop, sweepFrequency)

	pumpCtx, cancel := context.WithCancel(context.Background())
	b.pumpCancel = cancel
	b.pumpErrCh = make(chan error, 1)
	go func() {
		b.pumpErrCh <- b.conn.Run(pumpCtx)
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	defer connectCancel()

	select {
	case <-connectedCh:
		return nil
	case <-connectCtx.Done():
		b.setState(Disconnected)
		return ErrTimeout
	}
}

// Disconnect proceeds per the shutdown sequence: set state to
// DISCONNECTED, cancel the dispatcher, instruct the SDK to disconnect,
// join the pump with a bounded deadline, and fail all still-pending
// registry entries with Disconnected. Idempotent.
func (b *Bridge) Disconnect() error {
	if b.State() == Disconnected {
		return nil
	}
	b.setState(Disconnected)

	if b.sweeperStop != nil {
		close(b.sweeperStop)
	}

	_ = b.conn.Disconnect()

	if b.pumpCancel != nil {
		b.pumpCancel()
	}
	if b.pumpErrCh != nil {
		select {
		case <-b.pumpErrCh:
		case <-time.After(5 * time.Second):
			b.logger.Warn("broker pump did not exit within shutdown deadline")
		}
	}

	b.registry.failAll(ErrDisconnected)
	return nil
}

// requireOperational returns ErrDisconnected unless the bridge is
// OPERATIONAL — only OPERATIONAL admits data requests.
func (b *Bridge) requireOperational() error {
	if b.State() != Operational {
		return ErrDisconnected
	}
	return nil
}

// await waits for a RequestContext's result, honoring ctx cancellation
// by removing the context from the registry and issuing a best-effort
// SDK cancel via cancel, per the façade's cancellation contract.
func await(ctx context.Context, reg *registry, reqID int64, resultCh chan requestResult, cancelSDK func()) (requestResult, error) {
	select {
	case res := <-resultCh:
		return res, res.Err
	case <-ctx.Done():
		reg.remove(reqID)
		if cancelSDK != nil {
			cancelSDK()
		}
		return requestResult{}, ErrCancelled
	}
}

// RequestNewsProviders returns the ordered sequence of provider
// descriptors the broker reports.
func (b *Bridge) RequestNewsProviders(ctx context.Context) ([]contract.NewsProvider, error) {
	if err := b.requireOperational(); err != nil {
		return nil, err
	}

	reqID := b.ids.nextRequestID()
	rctx := b.registry.insert(reqID, KindNewsProviders, AggregateReservedID, newsProviderTimeout)

	if err := b.conn.ReqNewsProviders(reqID); err != nil {
		b.registry.remove(reqID)
		return nil, err
	}

	res, err := await(ctx, b.registry, reqID, rctx.resultCh, nil)
	if err != nil {
		return nil, err
	}
	return res.Providers, nil
}

// SubscribeNewsFeed subscribes to a provider's raw news stream and
// returns the active Subscription. Streaming messages flow through
// Subscription.Ch until CancelSubscription is called.
func (b *Bridge) SubscribeNewsFeed(ctx context.Context, providerCode string) (*Subscription, error) {
	if providerCode == "" {
		return nil, ErrInvalidProvider
	}
	if err := b.requireOperational(); err != nil {
		return nil, err
	}

	reqID := b.ids.nextRequestID()
	sub := b.fanout.subscribe(reqID, StreamNews, b.streamBuffer())

	c := contract.NewsContract(providerCode)
	if err := b.conn.ReqMktDataNews(reqID, c); err != nil {
		b.fanout.cancel(reqID)
		return nil, err
	}
	return sub, nil
}

// CancelSubscription cancels an active streaming subscription.
func (b *Bridge) CancelSubscription(reqID int64) error {
	b.fanout.cancel(reqID)
	return b.conn.CancelMktData(reqID)
}

func (b *Bridge) streamBuffer() int {
	if b.cfg.SubscriptionBuffer <= 0 {
		return 1024
	}
	return b.cfg.SubscriptionBuffer
}
