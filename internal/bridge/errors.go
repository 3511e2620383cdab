package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no additional data. Callers
// distinguish these with errors.Is rather than string matching.
var (
	// ErrTimeout is returned when the pending-request registry's
	// sweeper trips a context's deadline.
	ErrTimeout = errors.New("bridge: request timed out")

	// ErrNotReady is returned when an order ID is allocated before
	// NEXT_VALID_ID has seeded the order-ID space.
	ErrNotReady = errors.New("bridge: order ID space not yet seeded")

	// ErrDisconnected is returned when a call is made, or a pending
	// request is failed, because the bridge is not OPERATIONAL.
	ErrDisconnected = errors.New("bridge: not connected")

	// ErrCancelled is returned when the caller's context is cancelled
	// while a façade call is outstanding.
	ErrCancelled = errors.New("bridge: request cancelled")

	// ErrAlreadyConnected is returned by Connect when the bridge is not
	// currently DISCONNECTED.
	ErrAlreadyConnected = errors.New("bridge: already connected")

	// ErrConnectionRefused is returned by Connect when the transport
	// dial fails.
	ErrConnectionRefused = errors.New("bridge: connection refused")

	// ErrInvalidProvider is returned by SubscribeNewsFeed for an empty
	// or malformed provider code.
	ErrInvalidProvider = errors.New("bridge: invalid provider code")

	// ErrRejected is returned by PlaceOrder when the broker connection
	// refuses the submission (its PlaceOrder call returns an error). A
	// rejection the broker reports later is not turned into ErrRejected.
	ErrRejected = errors.New("bridge: order rejected")

	// ErrBadRequest is returned by FetchHistoricalData when the broker
	// connection refuses the request (its ReqHistoricalData call returns
	// an error). An error the broker reports against an issued request
	// resolves the call with a *BrokerError instead.
	ErrBadRequest = errors.New("bridge: broker reported a bad request")
)

// BrokerError wraps a broker-reported error code and message against a
// known RequestId. Distinct from the sentinel errors above because it
// carries data a caller may want to inspect (e.g. the code, for
// retry/alerting policy).
type BrokerError struct {
	Code    int
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("bridge: broker error %d: %s", e.Code, e.Message)
}
