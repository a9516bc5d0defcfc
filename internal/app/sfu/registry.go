package sfu

import (
	"time"

	"github.com/dkeye/Relay/internal/core"
)

// TrackRegistry keeps one session's incoming tracks (owned) and outgoing
// tracks (handles into other sessions' tracks).
type TrackRegistry struct {
	arena            *core.TrackArena
	keyframeInterval time.Duration

	in  []*core.TrackInEntry
	out []*TrackOut
}

func NewTrackRegistry(arena *core.TrackArena, keyframeInterval time.Duration) *TrackRegistry {
	return &TrackRegistry{arena: arena, keyframeInterval: keyframeInterval}
}

// AddIncoming registers a track received from this session's peer.
// A mid seen before returns the existing entry.
func (r *TrackRegistry) AddIncoming(origin core.SessionID, mid core.Mid, kind core.MediaKind) (*core.TrackInEntry, bool) {
	if e, ok := r.Incoming(mid); ok {
		return e, false
	}
	t := core.TrackIn{Origin: origin, Mid: mid, Kind: kind}
	e := core.NewTrackInEntry(r.arena.Insert(t), t, r.keyframeInterval)
	r.in = append(r.in, e)
	return e, true
}

func (r *TrackRegistry) Incoming(mid core.Mid) (*core.TrackInEntry, bool) {
	for _, e := range r.in {
		if e.Track.Mid == mid {
			return e, true
		}
	}
	return nil, false
}

// IncomingHandles returns handles for every live incoming track.
func (r *TrackRegistry) IncomingHandles() []core.TrackHandle {
	hs := make([]core.TrackHandle, 0, len(r.in))
	for _, e := range r.in {
		if _, ok := r.arena.Resolve(e.Handle); ok {
			hs = append(hs, e.Handle)
		}
	}
	return hs
}

// HandleTrackOpened queues h for the next negotiation round. A handle already
// known is ignored.
func (r *TrackRegistry) HandleTrackOpened(h core.TrackHandle) bool {
	for _, ot := range r.out {
		if ot.Track == h {
			return false
		}
	}
	r.out = append(r.out, NewTrackOut(h))
	return true
}

// ResolveOutgoingMid finds the local mid carrying the track (origin, mid).
// Tracks still TrackToOpen have no mid and never match.
func (r *TrackRegistry) ResolveOutgoingMid(origin core.SessionID, mid core.Mid) (core.Mid, bool) {
	for _, ot := range r.out {
		local, ok := ot.Mid()
		if !ok {
			continue
		}
		t, ok := r.arena.Resolve(ot.Track)
		if !ok {
			continue
		}
		if t.Origin == origin && t.Mid == mid {
			return local, true
		}
	}
	return "", false
}

// ResolveOutgoing maps a local mid back to the source track.
func (r *TrackRegistry) ResolveOutgoing(local core.Mid) (core.TrackIn, bool) {
	for _, ot := range r.out {
		m, ok := ot.Mid()
		if !ok || m != local {
			continue
		}
		return r.arena.Resolve(ot.Track)
	}
	return core.TrackIn{}, false
}

func (r *TrackRegistry) Outgoing() []*TrackOut { return r.out }

func (r *TrackRegistry) CountState(s TrackOutState) int {
	n := 0
	for _, ot := range r.out {
		if ot.state == s {
			n++
		}
	}
	return n
}

// Prune drops outgoing tracks whose source no longer resolves.
func (r *TrackRegistry) Prune() int {
	kept := r.out[:0]
	for _, ot := range r.out {
		if _, ok := r.arena.Resolve(ot.Track); ok {
			kept = append(kept, ot)
		}
	}
	n := len(r.out) - len(kept)
	clear(r.out[len(kept):])
	r.out = kept
	return n
}

// RetireAll retires every incoming track of the session in the arena.
func (r *TrackRegistry) RetireAll() int {
	n := 0
	for _, e := range r.in {
		if r.arena.Retire(e.Handle) {
			n++
		}
	}
	r.in = nil
	return n
}
