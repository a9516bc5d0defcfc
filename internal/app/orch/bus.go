package orch

import (
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
)

// Bus is the FIFO of events waiting to be fanned out between sessions.
// It is drained on the coordinator goroutine only.
type Bus struct {
	queue   []core.Propagated
	metrics *metrics.Collector
}

func NewBus(m *metrics.Collector) *Bus {
	return &Bus{metrics: m}
}

// Push enqueues p. Noop and Timeout never cross sessions and are dropped.
func (b *Bus) Push(p core.Propagated) bool {
	switch p.(type) {
	case nil, core.Noop, core.Timeout:
		return false
	}
	b.queue = append(b.queue, p)
	return true
}

func (b *Bus) Pop() (core.Propagated, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	p := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return p, true
}

func (b *Bus) Len() int { return len(b.queue) }

// Dispatch delivers p to the sessions it concerns.
func (b *Bus) Dispatch(p core.Propagated, sessions []*sfu.Session) {
	b.metrics.Propagated(core.KindOf(p))

	switch ev := p.(type) {
	case core.TrackOpened:
		for _, s := range sessions {
			if s.ID() != ev.Origin {
				s.HandleTrackOpened(ev.Track)
			}
		}
	case core.MediaForwarded:
		for _, s := range sessions {
			if s.ID() != ev.Origin {
				s.HandleMedia(ev.Origin, ev.Frame)
			}
		}
	case core.KeyframeRequested:
		for _, s := range sessions {
			if s.ID() == ev.TrackOrigin {
				s.HandleKeyframeRequest(ev)
			}
		}
	}
}
