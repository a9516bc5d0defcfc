package core

import (
	"time"

	"golang.org/x/time/rate"
)

// TrackIn describes a track received from a peer. It never changes once created.
type TrackIn struct {
	Origin SessionID
	Mid    Mid
	Kind   MediaKind
}

// TrackHandle is a non-owning reference to a TrackIn stored in a TrackArena.
// The zero handle never resolves.
type TrackHandle struct {
	slot uint32
	gen  uint32
}

func (h TrackHandle) IsZero() bool { return h.gen == 0 }

type arenaSlot struct {
	gen   uint32
	live  bool
	track TrackIn
}

// TrackArena owns every TrackIn of the pool. The originating session holds the
// only right to retire its tracks; everyone else resolves handles and must
// treat a failed lookup as "track gone".
//
// Not safe for concurrent use: the coordinator goroutine owns it.
type TrackArena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

func NewTrackArena() *TrackArena {
	return &TrackArena{}
}

// Insert stores t and returns a fresh handle for it.
func (a *TrackArena) Insert(t TrackIn) TrackHandle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.track = t
	a.live++
	return TrackHandle{slot: idx, gen: s.gen}
}

// Resolve upgrades a handle. It fails once the handle has been retired,
// even if the slot has been reused since.
func (a *TrackArena) Resolve(h TrackHandle) (TrackIn, bool) {
	if h.IsZero() || int(h.slot) >= len(a.slots) {
		return TrackIn{}, false
	}
	s := a.slots[h.slot]
	if !s.live || s.gen != h.gen {
		return TrackIn{}, false
	}
	return s.track, true
}

// Retire invalidates h. Retiring a stale handle is a no-op.
func (a *TrackArena) Retire(h TrackHandle) bool {
	if _, ok := a.Resolve(h); !ok {
		return false
	}
	s := &a.slots[h.slot]
	s.live = false
	s.track = TrackIn{}
	a.free = append(a.free, h.slot)
	a.live--
	return true
}

// Len reports the number of live tracks.
func (a *TrackArena) Len() int { return a.live }

// TrackInEntry is a TrackIn owned by its session plus the keyframe throttle for it.
type TrackInEntry struct {
	Handle TrackHandle
	Track  TrackIn

	LastKeyframeRequest time.Time
	limiter             *rate.Limiter
}

// NewTrackInEntry allows one keyframe request per interval for the track.
func NewTrackInEntry(h TrackHandle, t TrackIn, interval time.Duration) *TrackInEntry {
	return &TrackInEntry{
		Handle:  h,
		Track:   t,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// AllowKeyframeRequest reports whether a keyframe request may be issued at now,
// and records it if so.
func (e *TrackInEntry) AllowKeyframeRequest(now time.Time) bool {
	if !e.limiter.AllowN(now, 1) {
		return false
	}
	e.LastKeyframeRequest = now
	return true
}
