package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// OfferAcceptor turns a peer's initial SDP offer into an answer and hands the
// resulting session over to the pool.
type OfferAcceptor interface {
	Accept(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// PoolStats is a read-only view of the pool for HTTP handlers.
type PoolStats interface {
	Size() int
}
