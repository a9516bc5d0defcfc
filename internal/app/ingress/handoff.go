package ingress

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Relay/internal/core"
)

var ErrHandoffClosed = errors.New("ingress: handoff closed")

// Handoff passes accepted engines from signaling goroutines to the pool.
// It holds at most one engine: Push blocks until the previous one is taken.
type Handoff struct {
	ch   chan core.Engine
	done chan struct{}
	once sync.Once
}

func NewHandoff() *Handoff {
	return &Handoff{
		ch:   make(chan core.Engine, 1),
		done: make(chan struct{}),
	}
}

func (h *Handoff) Push(ctx context.Context, e core.Engine) error {
	select {
	case <-h.done:
		return ErrHandoffClosed
	default:
	}

	select {
	case h.ch <- e:
		return nil
	case <-h.done:
		return ErrHandoffClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryTake never blocks.
func (h *Handoff) TryTake() (core.Engine, bool) {
	select {
	case e := <-h.ch:
		return e, true
	default:
		return nil, false
	}
}

// Close rejects further pushes and disconnects an engine left untaken.
func (h *Handoff) Close() {
	h.once.Do(func() {
		close(h.done)
		if e, ok := h.TryTake(); ok {
			e.Disconnect()
		}
	})
}
