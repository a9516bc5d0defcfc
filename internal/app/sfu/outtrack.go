package sfu

import "github.com/dkeye/Relay/internal/core"

type TrackOutState int

const (
	TrackToOpen TrackOutState = iota
	TrackNegotiating
	TrackOpen
)

func (s TrackOutState) String() string {
	switch s {
	case TrackToOpen:
		return "to_open"
	case TrackNegotiating:
		return "negotiating"
	case TrackOpen:
		return "open"
	default:
		return "unknown"
	}
}

// TrackOut mirrors another session's TrackIn on this session's peer.
// It only carries a mid once it has left TrackToOpen.
type TrackOut struct {
	Track core.TrackHandle
	state TrackOutState
	mid   core.Mid
}

func NewTrackOut(h core.TrackHandle) *TrackOut {
	return &TrackOut{Track: h}
}

func (ot *TrackOut) State() TrackOutState { return ot.state }

// Mid returns the local mid, or false while the track is still TrackToOpen.
func (ot *TrackOut) Mid() (core.Mid, bool) {
	if ot.state == TrackToOpen {
		return "", false
	}
	return ot.mid, true
}

func (ot *TrackOut) MarkNegotiating(mid core.Mid) {
	ot.state = TrackNegotiating
	ot.mid = mid
}

// MarkOpen promotes a negotiating track. Other states are left alone.
func (ot *TrackOut) MarkOpen() {
	if ot.state == TrackNegotiating {
		ot.state = TrackOpen
	}
}

func (ot *TrackOut) MarkToOpen() {
	ot.state = TrackToOpen
	ot.mid = ""
}
