package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrGatherTimeout = errors.New("rtc: candidate gathering timed out")

type Config struct {
	// LocalAddr is the pool socket's address, advertised as the host candidate.
	LocalAddr     *net.UDPAddr
	PollInterval  time.Duration
	OutputQueue   int
	InboxSize     int
	GatherTimeout time.Duration
}

// Factory builds pion-backed engines that share the pool's UDP socket.
type Factory struct {
	cfg     Config
	loggers *LoggerFactory
	log     zerolog.Logger
}

func NewFactory(cfg Config, base zerolog.Logger) *Factory {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.OutputQueue <= 0 {
		cfg.OutputQueue = 1024
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}
	return &Factory{
		cfg:     cfg,
		loggers: NewLoggerFactory(base),
		log:     base.With().Str("module", "rtc").Logger(),
	}
}

func newICECredentials() (ufrag, pwd string) {
	ufrag = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	pwd = strings.ReplaceAll(uuid.NewString(), "-", "")
	return ufrag, pwd
}

func (f *Factory) api(conn *virtualConn, ufrag, pwd string) (*webrtc.API, *ice.UDPMuxDefault, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, nil, fmt.Errorf("register interceptors: %w", err)
	}

	mux := ice.NewUDPMuxDefault(ice.UDPMuxParams{
		Logger:  f.loggers.NewLogger("udpmux"),
		UDPConn: conn,
	})

	s := webrtc.SettingEngine{LoggerFactory: f.loggers}
	s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	s.SetICEUDPMux(mux)
	s.SetICECredentials(ufrag, pwd)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(s),
		webrtc.WithInterceptorRegistry(i),
	)
	return api, mux, nil
}

// NewEngine answers offer on a fresh PeerConnection and returns the engine
// with the answer, candidates included.
func (f *Factory) NewEngine(ctx context.Context, offer webrtc.SessionDescription) (core.Engine, webrtc.SessionDescription, error) {
	if f.cfg.LocalAddr == nil {
		return nil, webrtc.SessionDescription{}, errors.New("rtc: no local address")
	}
	ufrag, pwd := newICECredentials()
	logger := f.log.With().Str("ufrag", ufrag).Logger()

	var e *Engine
	conn := newVirtualConn(f.cfg.LocalAddr, f.cfg.InboxSize, func(dst *net.UDPAddr, data []byte) {
		e.transmit(dst, data)
	})
	e = newEngine(ufrag, conn, f.cfg.PollInterval, f.cfg.OutputQueue, logger)

	api, mux, err := f.api(conn, ufrag, pwd)
	if err != nil {
		_ = conn.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	e.mux = mux

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		_ = mux.Close()
		_ = conn.Close()
		return nil, webrtc.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	e.pc = pc
	e.wire()

	answer, err := f.answer(ctx, pc, offer)
	if err != nil {
		e.Disconnect()
		return nil, webrtc.SessionDescription{}, err
	}
	logger.Info().Msg("engine created")
	return e, answer, nil
}

func (f *Factory) answer(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}

	timer := time.NewTimer(f.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return webrtc.SessionDescription{}, ErrGatherTimeout
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *pc.LocalDescription(), nil
}

// wire connects pion callbacks to the engine's output queue.
func (e *Engine) wire() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.log.Info().Str("ice_state", s.String()).Msg("ICE state")
		e.emitEvent(core.IceStateChanged{State: s})
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.log.Debug().Str("peer_connection_state", s.String()).Msg("peer state")
	})

	e.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.registerChannel(dc)
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		mid := e.midOf(receiver)
		e.log.Info().
			Str("mid", string(mid)).
			Str("rid", track.RID()).
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		if e.addInbound(mid, track) {
			e.emitEvent(core.MediaAdded{Mid: mid, Kind: track.Kind(), Direction: webrtc.RTPTransceiverDirectionRecvonly})
			go drainRTCP(receiver)
		}
		go e.readRTP(mid, track)
	})
}

func (e *Engine) midOf(receiver *webrtc.RTPReceiver) core.Mid {
	for _, t := range e.pc.GetTransceivers() {
		if t.Receiver() == receiver {
			return core.Mid(t.Mid())
		}
	}
	return ""
}
