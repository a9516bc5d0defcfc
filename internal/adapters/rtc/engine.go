package rtc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/ice/v4"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type outboundTrack struct {
	track       *relayTrack
	transceiver *webrtc.RTPTransceiver
}

// Engine drives one pion PeerConnection through the sans-IO core.Engine
// contract. pion keeps its own goroutines; their results are queued here and
// drained by PollOutput on the pool goroutine.
type Engine struct {
	pc    *webrtc.PeerConnection
	conn  *virtualConn
	mux   *ice.UDPMuxDefault
	ufrag string

	pollInterval time.Duration
	outputLimit  int
	log          zerolog.Logger

	alive atomic.Bool

	mu          sync.Mutex
	outputs     []core.Output
	dropped     int
	remotes     map[string]struct{}
	channels    map[core.ChannelID]*webrtc.DataChannel
	nextChannel core.ChannelID
	inbound     map[core.Mid][]*webrtc.TrackRemote
	outbound    map[core.Mid]*outboundTrack
	pendingSeq  uint64
	seq         uint64
	firSeq      uint8
}

func newEngine(ufrag string, conn *virtualConn, pollInterval time.Duration, outputLimit int, logger zerolog.Logger) *Engine {
	e := &Engine{
		conn:         conn,
		ufrag:        ufrag,
		pollInterval: pollInterval,
		outputLimit:  outputLimit,
		log:          logger,
		remotes:      make(map[string]struct{}),
		channels:     make(map[core.ChannelID]*webrtc.DataChannel),
		inbound:      make(map[core.Mid][]*webrtc.TrackRemote),
		outbound:     make(map[core.Mid]*outboundTrack),
	}
	e.alive.Store(true)
	return e
}

// emit queues an output. Media is dropped first when the queue is full.
func (e *Engine) emit(out core.Output) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outputLimit > 0 && len(e.outputs) >= e.outputLimit {
		e.dropped++
		if e.dropped == 1 || e.dropped%1000 == 0 {
			e.log.Warn().Int("dropped", e.dropped).Msg("output queue full")
		}
		return
	}
	e.outputs = append(e.outputs, out)
}

func (e *Engine) emitEvent(ev core.EngineEvent) { e.emit(core.EventOutput(ev)) }

func (e *Engine) transmit(dst *net.UDPAddr, data []byte) {
	e.mu.Lock()
	e.remotes[dst.String()] = struct{}{}
	e.mu.Unlock()
	e.emit(core.TransmitOutput(dst, data))
}

// Accepts claims STUN requests carrying this engine's ufrag and any datagram
// from an address the engine already talks to.
func (e *Engine) Accepts(in core.Input) bool {
	if in.Kind != core.InputReceive || in.Source == nil {
		return false
	}
	if e.matchesUfrag(in.Contents) {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.remotes[in.Source.String()]
	return ok
}

func (e *Engine) matchesUfrag(b []byte) bool {
	if !stun.IsMessage(b) {
		return false
	}
	m := &stun.Message{Raw: append([]byte(nil), b...)}
	if err := m.Decode(); err != nil {
		return false
	}
	var u stun.Username
	if err := u.GetFrom(m); err != nil {
		return false
	}
	local, _, ok := strings.Cut(string(u), ":")
	return ok && local == e.ufrag
}

func (e *Engine) HandleInput(in core.Input) error {
	if !e.alive.Load() {
		return core.ErrNotAlive
	}
	if in.Kind != core.InputReceive {
		// pion runs its own timers.
		return nil
	}
	if e.matchesUfrag(in.Contents) {
		e.mu.Lock()
		e.remotes[in.Source.String()] = struct{}{}
		e.mu.Unlock()
	}
	if !e.conn.deliver(in.Contents, in.Source) {
		e.log.Debug().Str("src", in.Source.String()).Msg("inbound datagram dropped")
	}
	return nil
}

func (e *Engine) PollOutput() (core.Output, error) {
	if !e.alive.Load() {
		return core.Output{}, core.ErrNotAlive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.outputs) == 0 {
		return core.TimeoutOutput(time.Now().Add(e.pollInterval)), nil
	}
	out := e.outputs[0]
	e.outputs[0] = core.Output{}
	e.outputs = e.outputs[1:]
	return out, nil
}

func (e *Engine) IsAlive() bool { return e.alive.Load() }

// Disconnect closes the peer connection in the background.
func (e *Engine) Disconnect() {
	if !e.alive.CompareAndSwap(true, false) {
		return
	}
	go e.close()
}

func (e *Engine) close() {
	if err := e.pc.Close(); err != nil {
		e.log.Error().Err(err).Msg("close error")
	} else {
		e.log.Info().Msg("closed")
	}
	if e.mux != nil {
		_ = e.mux.Close()
	}
	_ = e.conn.Close()
}

func (e *Engine) BeginChange() core.ChangeSet { return &changeSet{e: e} }

// AcceptOffer answers a peer offer. pion cannot roll a local offer back, so
// an offer arriving while ours is unanswered is refused and nothing changes.
func (e *Engine) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if e.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		return webrtc.SessionDescription{}, core.ErrOfferPending
	}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return *e.pc.LocalDescription(), nil
}

// AcceptAnswer completes the pending offer. A rejected answer leaves the
// offer pending so it can be sent again.
func (e *Engine) AcceptAnswer(pending core.PendingAnswer, answer webrtc.SessionDescription) error {
	e.mu.Lock()
	current := e.pendingSeq
	e.mu.Unlock()

	switch {
	case current == 0:
		return core.ErrNoPendingOffer
	case pending.Seq != current:
		return core.ErrStaleAnswer
	}

	if err := e.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}

	e.mu.Lock()
	e.pendingSeq = 0
	e.mu.Unlock()
	return nil
}

func (e *Engine) Writer(mid core.Mid) (core.Writer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.outbound[mid]; ok {
		return &writer{e: e, mid: mid}, true
	}
	if _, ok := e.inbound[mid]; ok {
		return &writer{e: e, mid: mid}, true
	}
	return nil, false
}

func (e *Engine) Channel(id core.ChannelID) (core.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dc, ok := e.channels[id]
	if !ok {
		return nil, false
	}
	return channel{dc: dc}, true
}

// AddLocalCandidate moves the engine's local address. pion gathers host
// candidates once, so this only affects addresses reported from now on.
func (e *Engine) AddLocalCandidate(addr *net.UDPAddr) error {
	if addr == nil {
		return errors.New("rtc: nil candidate address")
	}
	e.conn.setLocal(addr)
	e.log.Info().Str("addr", addr.String()).Msg("local address updated")
	return nil
}

func (e *Engine) registerChannel(dc *webrtc.DataChannel) core.ChannelID {
	e.mu.Lock()
	e.nextChannel++
	id := e.nextChannel
	e.channels[id] = dc
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.emitEvent(core.ChannelOpened{ID: id, Label: dc.Label()})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.emitEvent(core.ChannelData{ID: id, Data: msg.Data, Binary: !msg.IsString})
	})
	return id
}

// addInbound records a remote track and reports whether its mid is new.
func (e *Engine) addInbound(mid core.Mid, track *webrtc.TrackRemote) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, seen := e.inbound[mid]
	e.inbound[mid] = append(e.inbound[mid], track)
	return !seen
}

func (e *Engine) readRTP(mid core.Mid, track *webrtc.TrackRemote) {
	var (
		last  uint16
		first = true
	)
	for e.alive.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		contiguous := first || pkt.SequenceNumber == last+1
		first = false
		last = pkt.SequenceNumber

		e.emitEvent(core.MediaReceived{Frame: core.MediaFrame{
			Mid:         mid,
			Rid:         core.Rid(track.RID()),
			Params:      track.Codec(),
			NetworkTime: time.Now(),
			Contiguous:  contiguous,
			Packet:      pkt,
		}})
	}
}

// readSenderRTCP turns keyframe feedback on a send line into events.
func (e *Engine) readSenderRTCP(mid core.Mid, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication:
				e.emitEvent(core.KeyframeRequestReceived{Request: core.KeyframeRequest{Mid: mid, Kind: core.KeyframePLI}})
			case *rtcp.FullIntraRequest:
				e.emitEvent(core.KeyframeRequestReceived{Request: core.KeyframeRequest{Mid: mid, Kind: core.KeyframeFIR}})
			}
		}
	}
}

// drainRTCP keeps the receiver's interceptors running.
func drainRTCP(r *webrtc.RTPReceiver) {
	for {
		if _, _, err := r.ReadRTCP(); err != nil {
			return
		}
	}
}

// allocateMid returns the next numeric mid not used by any transceiver or
// by either side's descriptions. Data channels have no transceiver, so the
// descriptions are the only record of their mid.
func (e *Engine) allocateMid() core.Mid {
	highest := -1
	note := func(mid string) {
		if v, err := strconv.Atoi(mid); err == nil && v > highest {
			highest = v
		}
	}
	for _, t := range e.pc.GetTransceivers() {
		note(t.Mid())
	}
	descs := []*webrtc.SessionDescription{
		e.pc.CurrentRemoteDescription(),
		e.pc.PendingRemoteDescription(),
		e.pc.CurrentLocalDescription(),
		e.pc.PendingLocalDescription(),
	}
	for _, desc := range descs {
		if desc == nil {
			continue
		}
		parsed, err := desc.Unmarshal()
		if err != nil {
			continue
		}
		for _, m := range parsed.MediaDescriptions {
			if mid, ok := m.Attribute(sdp.AttrKeyMID); ok {
				note(mid)
			}
		}
	}
	return core.Mid(strconv.Itoa(highest + 1))
}

type writer struct {
	e   *Engine
	mid core.Mid
}

func (w *writer) MatchParams(remote webrtc.RTPCodecParameters) (webrtc.PayloadType, bool) {
	w.e.mu.Lock()
	ot, ok := w.e.outbound[w.mid]
	w.e.mu.Unlock()
	if !ok {
		return 0, false
	}
	return ot.track.payloadType(remote)
}

func (w *writer) Write(pt webrtc.PayloadType, _ time.Time, frame core.MediaFrame) error {
	w.e.mu.Lock()
	ot, ok := w.e.outbound[w.mid]
	w.e.mu.Unlock()
	if !ok {
		return core.ErrUnknownMid
	}
	if frame.Packet == nil {
		return nil
	}
	return ot.track.write(pt, frame.Packet)
}

func (w *writer) RequestKeyframe(rid core.Rid, kind core.KeyframeKind) error {
	w.e.mu.Lock()
	tracks := w.e.inbound[w.mid]
	var target *webrtc.TrackRemote
	for _, t := range tracks {
		if core.Rid(t.RID()) == rid || rid == "" {
			target = t
			break
		}
	}
	w.e.firSeq++
	seq := w.e.firSeq
	w.e.mu.Unlock()

	if len(tracks) == 0 {
		return core.ErrUnknownMid
	}
	if target == nil {
		return core.ErrLayerMismatch
	}

	ssrc := uint32(target.SSRC())
	var pkt rtcp.Packet = &rtcp.PictureLossIndication{MediaSSRC: ssrc}
	if kind == core.KeyframeFIR {
		pkt = &rtcp.FullIntraRequest{
			MediaSSRC: ssrc,
			FIR:       []rtcp.FIREntry{{SSRC: ssrc, SequenceNumber: seq}},
		}
	}
	return w.e.pc.WriteRTCP([]rtcp.Packet{pkt})
}

type channel struct {
	dc *webrtc.DataChannel
}

func (c channel) Write(binary bool, data []byte) error {
	if binary {
		return c.dc.Send(data)
	}
	return c.dc.SendText(string(data))
}

var _ core.Engine = (*Engine)(nil)
