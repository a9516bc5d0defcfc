package core

import "time"

// Propagated is produced by one session while polling and fanned out to the
// others by the coordinator.
type Propagated interface {
	propagated()
}

// Noop means the poll produced nothing worth sharing.
type Noop struct{}

// Timeout ends a session's poll loop for the current tick.
// A zero At means the session has no deadline of its own.
type Timeout struct {
	At time.Time
}

// TrackOpened announces a new incoming track of Origin.
type TrackOpened struct {
	Origin SessionID
	Track  TrackHandle
}

// MediaForwarded carries media received by Origin.
type MediaForwarded struct {
	Origin SessionID
	Frame  MediaFrame
}

// KeyframeRequested is a keyframe request from Requester's peer for the track
// TrackMid of session TrackOrigin.
type KeyframeRequested struct {
	Requester   SessionID
	Request     KeyframeRequest
	TrackOrigin SessionID
	TrackMid    Mid
}

func (Noop) propagated()              {}
func (Timeout) propagated()           {}
func (TrackOpened) propagated()       {}
func (MediaForwarded) propagated()    {}
func (KeyframeRequested) propagated() {}

// OriginOf returns the session that produced p, if p carries one.
func OriginOf(p Propagated) (SessionID, bool) {
	switch ev := p.(type) {
	case TrackOpened:
		return ev.Origin, true
	case MediaForwarded:
		return ev.Origin, true
	case KeyframeRequested:
		return ev.Requester, true
	default:
		return 0, false
	}
}

// KindOf names p for logs and metrics.
func KindOf(p Propagated) string {
	switch p.(type) {
	case Noop:
		return "noop"
	case Timeout:
		return "timeout"
	case TrackOpened:
		return "track_opened"
	case MediaForwarded:
		return "media_forwarded"
	case KeyframeRequested:
		return "keyframe_requested"
	default:
		return "unknown"
	}
}
