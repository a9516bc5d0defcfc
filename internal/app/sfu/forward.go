package sfu

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
)

// HandleMedia forwards a frame received by origin to this session's peer.
// Write errors disconnect this session.
func (s *Session) HandleMedia(origin core.SessionID, frame core.MediaFrame) {
	if !s.engine.IsAlive() {
		return
	}
	mid, ok := s.tracks.ResolveOutgoingMid(origin, frame.Mid)
	if !ok {
		s.opts.Metrics.MediaDropped(metrics.DropNoMid)
		return
	}
	if frame.Rid != "" && frame.Rid != s.opts.HighLayer {
		s.opts.Metrics.MediaDropped(metrics.DropLayer)
		return
	}
	s.chosenLayer = frame.Rid

	w, ok := s.engine.Writer(mid)
	if !ok {
		s.opts.Metrics.MediaDropped(metrics.DropNoMid)
		return
	}
	pt, ok := w.MatchParams(frame.Params)
	if !ok {
		s.opts.Metrics.MediaDropped(metrics.DropNoPayloadType)
		return
	}
	if err := w.Write(pt, frame.NetworkTime, frame); err != nil {
		s.opts.Metrics.MediaDropped(metrics.DropWriteError)
		s.log.Error().
			Err(err).
			Uint64("origin", uint64(origin)).
			Str("mid", string(mid)).
			Msg("media write failed, disconnecting")
		s.engine.Disconnect()
		return
	}
	s.opts.Metrics.MediaForwarded()
}
