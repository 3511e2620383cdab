package bridge

// dispatchLoop is the Async Dispatcher Loop: the single cooperative
// task that drains the incoming channel and routes each message to a
// response, streaming, or system handler. It completes and fails
// registry entries as replies arrive; the façade inserts and removes
// entries (insert precedes the SDK call, per the ordering invariant),
// and the sweeper and Disconnect fail them. It writes bridge state on
// NEXT_VALID_ID and CONNECTION_CLOSED; Connect and Disconnect write it
// too. It returns when Disconnect closes the stop channel it shares
// with the registry sweeper.
func (b *Bridge) dispatchLoop() {
	defer close(b.dispatcherDone)
	stop := b.sweeperStop
	for {
		select {
		case <-stop:
			return
		case msg := <-b.router.Messages():
			b.handleMessage(msg)
		}
	}
}

func (b *Bridge) handleMessage(msg Message) {
	switch msg.Type {

	// System class.
	case NextValidID:
		b.ids.seedOrderID(msg.OrderID)
		b.setState(Operational)
		b.signalConnected()

	case ConnectionAck:
		// Acknowledged but OPERATIONAL is gated on NEXT_VALID_ID, per
		// the façade's connect contract.

	case ConnectionClosed:
		b.handleDisconnectedTransport()

	case Error:
		if b.registry.contains(msg.ReqID) {
			b.registry.fail(msg.ReqID, &BrokerError{Code: msg.Code, Message: msg.Message})
			return
		}
		b.logger.Warn("broker error with no matching request", "reqId", msg.ReqID, "code", msg.Code, "message", msg.Message)

	// Reserved-id class.
	case NewsProviders:
		if ctx, ok := b.registry.popByKind(KindNewsProviders); ok {
			ctx.resultCh <- requestResult{Providers: msg.Providers}
		}

	// Completion class: aggregating.
	case HistoricalDataBar:
		// While the request is still outstanding this bar is part of
		// the initial aggregation; once the terminator has completed
		// it, a further bar under the same reqId is a keepUpToDate
		// real-time update and goes to the fan-out's StreamBar
		// subscriber instead (never-drop policy).
		if b.registry.contains(msg.ReqID) {
			b.registry.appendBar(msg.ReqID, msg.Bar)
		} else {
			b.fanout.deliver(msg.ReqID, msg)
		}

	case HistoricalDataEnd:
		b.registry.complete(msg.ReqID, requestResult{})

	case AccountSummary:
		b.registry.appendAccountValue(msg.ReqID, msg.AccountValue)

	case AccountSummaryEnd:
		b.registry.complete(msg.ReqID, requestResult{})

	// Streaming class.
	case NewsTick, TickPrice, TickSize:
		b.fanout.deliver(msg.ReqID, msg)

	case OrderStatus:
		// Order status updates are keyed by OrderId, not RequestId;
		// the fan-out indexes order-status subscriptions under the
		// order ID in the same map.
		b.fanout.deliver(msg.OrderID, msg)

	case Position, PositionEnd, OpenOrder:
		// Positions/open orders stream under the request that started
		// them; forwarded the same way as other streaming classes.
		b.fanout.deliver(msg.ReqID, msg)

	default:
		b.logger.Debug("unclassified message", "type", msg.Type.String())
	}
}

// handleDisconnectedTransport runs the shutdown sequence's registry and
// state cleanup when the transport closes, whether because Disconnect
// was called or because the pump exited on its own (a Transport-class
// error per the error taxonomy).
func (b *Bridge) handleDisconnectedTransport() {
	b.setState(Disconnected)
	b.registry.failAll(ErrDisconnected)
}
