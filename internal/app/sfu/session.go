package sfu

import (
	"errors"
	"net"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PacketWriter is the socket side a session transmits through.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

type Options struct {
	// HighLayer is the only simulcast rid forwarded.
	HighLayer        core.Rid
	KeyframeInterval time.Duration
	Now              func() time.Time
	Metrics          *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.HighLayer == "" {
		o.HighLayer = "h"
	}
	if o.KeyframeInterval <= 0 {
		o.KeyframeInterval = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session wraps one engine instance and everything the pool tracks about its peer.
// All methods must be called from the coordinator goroutine.
type Session struct {
	id     core.SessionID
	engine core.Engine
	conn   PacketWriter
	opts   Options
	log    zerolog.Logger

	tracks *TrackRegistry
	neg    *NegotiationDriver

	// chosenLayer is the rid last forwarded to this session's peer.
	chosenLayer core.Rid
}

func NewSession(id core.SessionID, engine core.Engine, arena *core.TrackArena, conn PacketWriter, opts Options) *Session {
	opts = opts.withDefaults()
	logger := log.With().
		Str("module", "session").
		Uint64("sid", uint64(id)).
		Logger()
	tracks := NewTrackRegistry(arena, opts.KeyframeInterval)
	return &Session{
		id:     id,
		engine: engine,
		conn:   conn,
		opts:   opts,
		log:    logger,
		tracks: tracks,
		neg:    NewNegotiationDriver(engine, tracks, arena, opts.Metrics, logger),
	}
}

func (s *Session) ID() core.SessionID { return s.id }

func (s *Session) Tracks() *TrackRegistry { return s.tracks }

func (s *Session) Negotiation() *NegotiationDriver { return s.neg }

func (s *Session) ChosenLayer() core.Rid { return s.chosenLayer }

func (s *Session) IsAlive() bool { return s.engine.IsAlive() }

func (s *Session) Disconnect() { s.engine.Disconnect() }

func (s *Session) Accepts(in core.Input) bool { return s.engine.Accepts(in) }

// HandleInput feeds in to the engine. Engine errors disconnect this session only.
func (s *Session) HandleInput(in core.Input) {
	if !s.engine.IsAlive() {
		return
	}
	if err := s.engine.HandleInput(in); err != nil {
		s.log.Warn().Err(err).Msg("handle input failed, disconnecting")
		s.engine.Disconnect()
	}
}

// AddLocalCandidate offers addr to the engine as a new host candidate.
func (s *Session) AddLocalCandidate(addr *net.UDPAddr) error {
	return s.engine.AddLocalCandidate(addr)
}

// PollOnce drains one engine output, or runs a renegotiation round when one is due.
// A core.Timeout result ends the poll loop for this tick.
func (s *Session) PollOnce() core.Propagated {
	if !s.engine.IsAlive() {
		return core.Timeout{}
	}

	if s.neg.Due() {
		if err := s.neg.Renegotiate(); err != nil && !errors.Is(err, core.ErrNoChanges) {
			s.log.Debug().Err(err).Msg("renegotiation deferred")
		}
		return core.Noop{}
	}

	out, err := s.engine.PollOutput()
	if err != nil {
		s.log.Warn().Err(err).Msg("poll output failed, disconnecting")
		s.engine.Disconnect()
		return core.Timeout{}
	}

	switch out.Kind {
	case core.OutputTransmit:
		if _, err := s.conn.WriteTo(out.Transmit.Contents, out.Transmit.Destination); err != nil {
			s.log.Warn().Err(err).Str("dst", out.Transmit.Destination.String()).Msg("send failed")
		}
		return core.Noop{}
	case core.OutputTimeout:
		s.neg.EndRound()
		return core.Timeout{At: out.Timeout}
	case core.OutputEvent:
		return s.handleEvent(out.Event)
	default:
		return core.Noop{}
	}
}

func (s *Session) handleEvent(ev core.EngineEvent) core.Propagated {
	switch e := ev.(type) {
	case core.IceStateChanged:
		s.log.Info().Str("state", e.State.String()).Msg("ice state")
		switch e.State {
		case webrtc.ICEConnectionStateDisconnected,
			webrtc.ICEConnectionStateFailed,
			webrtc.ICEConnectionStateClosed:
			s.engine.Disconnect()
		}
		return core.Noop{}

	case core.ChannelOpened:
		if s.neg.SetChannel(e.ID) {
			s.log.Info().Uint16("channel", uint16(e.ID)).Str("label", e.Label).Msg("control channel open")
		} else {
			s.log.Debug().Uint16("channel", uint16(e.ID)).Str("label", e.Label).Msg("extra channel open")
		}
		return core.Noop{}

	case core.ChannelData:
		s.handleControl(e)
		return core.Noop{}

	case core.MediaAdded:
		if e.Direction == webrtc.RTPTransceiverDirectionSendonly {
			return core.Noop{}
		}
		entry, added := s.tracks.AddIncoming(s.id, e.Mid, e.Kind)
		if !added {
			return core.Noop{}
		}
		s.log.Info().Str("mid", string(e.Mid)).Str("kind", e.Kind.String()).Msg("track opened")
		return core.TrackOpened{Origin: s.id, Track: entry.Handle}

	case core.MediaReceived:
		if !e.Frame.Contiguous {
			s.requestKeyframe(e.Frame)
		}
		return core.MediaForwarded{Origin: s.id, Frame: e.Frame}

	case core.KeyframeRequestReceived:
		src, ok := s.tracks.ResolveOutgoing(e.Request.Mid)
		if !ok {
			return core.Noop{}
		}
		req := e.Request
		req.Rid = s.chosenLayer
		return core.KeyframeRequested{
			Requester:   s.id,
			Request:     req,
			TrackOrigin: src.Origin,
			TrackMid:    src.Mid,
		}

	default:
		return core.Noop{}
	}
}

// requestKeyframe asks this session's own peer for a keyframe after loss,
// throttled per track. Audio has no keyframes to ask for.
func (s *Session) requestKeyframe(frame core.MediaFrame) {
	entry, ok := s.tracks.Incoming(frame.Mid)
	if !ok || entry.Track.Kind != core.MediaKindVideo {
		return
	}
	if !entry.AllowKeyframeRequest(s.opts.Now()) {
		s.opts.Metrics.Keyframe(metrics.KeyframeThrottled)
		return
	}
	w, ok := s.engine.Writer(frame.Mid)
	if !ok {
		return
	}
	if err := w.RequestKeyframe(frame.Rid, core.KeyframePLI); err != nil {
		s.opts.Metrics.Keyframe(metrics.KeyframeFailed)
		s.log.Debug().Err(err).Str("mid", string(frame.Mid)).Msg("keyframe request failed")
		return
	}
	s.opts.Metrics.Keyframe(metrics.KeyframeIssued)
}

func (s *Session) handleControl(e core.ChannelData) {
	msg := ParseControl(e.Data)
	switch msg.Kind {
	case ControlOffer:
		if err := s.neg.HandleRemoteOffer(msg.Desc); err != nil {
			s.log.Debug().Err(err).Msg("peer offer not answered")
		}
	case ControlAnswer:
		if err := s.neg.HandleAnswer(msg.Desc); err != nil {
			s.log.Debug().Err(err).Bool("pending", s.neg.Pending()).Msg("answer not applied")
		}
	default:
		reply, binary, latency := EchoReply(e.Data, e.Binary, s.opts.Now())
		evt := s.log.Debug().Uint16("channel", uint16(e.ID)).Int("bytes", len(e.Data))
		if latency > 0 {
			evt = evt.Dur("latency", latency)
		}
		evt.Msg("app message")

		ch, ok := s.engine.Channel(e.ID)
		if !ok {
			return
		}
		if err := ch.Write(binary, reply); err != nil {
			s.log.Warn().Err(err).Msg("echo failed")
		}
	}
}

// HandleTrackOpened queues another session's track for this peer.
func (s *Session) HandleTrackOpened(h core.TrackHandle) {
	if s.tracks.HandleTrackOpened(h) {
		s.log.Debug().Msg("track queued for negotiation")
	}
}

// HandleKeyframeRequest asks this session's peer for a keyframe on one of
// its own tracks, on behalf of another session.
func (s *Session) HandleKeyframeRequest(ev core.KeyframeRequested) {
	if _, ok := s.tracks.Incoming(ev.TrackMid); !ok {
		return
	}
	w, ok := s.engine.Writer(ev.TrackMid)
	if !ok {
		return
	}
	if err := w.RequestKeyframe(ev.Request.Rid, ev.Request.Kind); err != nil {
		s.opts.Metrics.Keyframe(metrics.KeyframeFailed)
		s.log.Info().Err(err).
			Str("mid", string(ev.TrackMid)).
			Str("rid", string(ev.Request.Rid)).
			Msg("keyframe request not honoured")
		return
	}
	s.opts.Metrics.Keyframe(metrics.KeyframeRelayed)
}

// PruneTracks drops outgoing tracks whose source is gone.
func (s *Session) PruneTracks() int { return s.tracks.Prune() }

// Close retires the session's tracks and disconnects its engine.
func (s *Session) Close() int {
	n := s.tracks.RetireAll()
	if s.engine.IsAlive() {
		s.engine.Disconnect()
	}
	return n
}
