// Package enginetest provides a scripted, in-memory core.Engine for tests.
package enginetest

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/webrtc/v4"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("enginetest: injected failure")

// SDP returns a minimal, parseable session description with one media line per mid.
func SDP(mids ...string) string {
	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n")
	b.WriteString("s=-\r\n")
	b.WriteString("t=0 0\r\n")
	for _, mid := range mids {
		b.WriteString("m=video 9 UDP/TLS/RTP/SAVPF 96\r\n")
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		fmt.Fprintf(&b, "a=mid:%s\r\n", mid)
		b.WriteString("a=rtpmap:96 VP8/90000\r\n")
	}
	return b.String()
}

func Offer(mids ...string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: SDP(mids...)}
}

func Answer(mids ...string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: SDP(mids...)}
}

// AddedMedia records one AddMedia call.
type AddedMedia struct {
	Mid         core.Mid
	Kind        core.MediaKind
	Direction   webrtc.RTPTransceiverDirection
	StreamLabel string
}

// Engine is a core.Engine whose outputs are queued by the test.
type Engine struct {
	Alive        bool
	Now          func() time.Time
	PollInterval time.Duration

	// Sources whose datagrams Accepts claims.
	Sources map[string]bool

	InputErr    error
	PollErr     error
	ApplyErr    error
	AcceptErr   error
	AnswerErr   error
	Candidates  []*net.UDPAddr
	Inputs      []core.Input
	Disconnects int

	Added          []AddedMedia
	Offers         []webrtc.SessionDescription
	AcceptedOffers []webrtc.SessionDescription
	Answers        []webrtc.SessionDescription

	Channels map[core.ChannelID]*Channel
	Writers  map[core.Mid]*Writer

	outputs []core.Output
	nextMid int
	staged  []core.Mid
	pending uint64
	seq     uint64
}

func New() *Engine {
	return &Engine{
		Alive:        true,
		Now:          time.Now,
		PollInterval: 50 * time.Millisecond,
		Sources:      make(map[string]bool),
		Channels:     make(map[core.ChannelID]*Channel),
		Writers:      make(map[core.Mid]*Writer),
		nextMid:      100,
	}
}

// Queue appends outputs returned by later PollOutput calls.
func (e *Engine) Queue(outs ...core.Output) *Engine {
	e.outputs = append(e.outputs, outs...)
	return e
}

// QueueEvent is a shorthand for queueing event outputs.
func (e *Engine) QueueEvent(evs ...core.EngineEvent) *Engine {
	for _, ev := range evs {
		e.outputs = append(e.outputs, core.EventOutput(ev))
	}
	return e
}

func (e *Engine) Pending() int { return len(e.outputs) }

// HasPendingOffer reports whether an applied offer awaits its answer.
func (e *Engine) HasPendingOffer() bool { return e.pending != 0 }

func (e *Engine) Accepts(in core.Input) bool {
	if in.Kind != core.InputReceive || in.Source == nil {
		return false
	}
	return e.Sources[in.Source.String()]
}

func (e *Engine) HandleInput(in core.Input) error {
	if !e.Alive {
		return core.ErrNotAlive
	}
	e.Inputs = append(e.Inputs, in)
	return e.InputErr
}

func (e *Engine) PollOutput() (core.Output, error) {
	if !e.Alive {
		return core.Output{}, core.ErrNotAlive
	}
	if e.PollErr != nil {
		return core.Output{}, e.PollErr
	}
	if len(e.outputs) > 0 {
		out := e.outputs[0]
		e.outputs = e.outputs[1:]
		return out, nil
	}
	return core.TimeoutOutput(e.Now().Add(e.PollInterval)), nil
}

func (e *Engine) IsAlive() bool { return e.Alive }

func (e *Engine) Disconnect() {
	e.Disconnects++
	e.Alive = false
}

func (e *Engine) BeginChange() core.ChangeSet { return &changeSet{e: e} }

func (e *Engine) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	// Like pion, a local offer cannot be rolled back for a remote one.
	if e.pending != 0 {
		return webrtc.SessionDescription{}, core.ErrOfferPending
	}
	if e.AcceptErr != nil {
		return webrtc.SessionDescription{}, e.AcceptErr
	}
	e.AcceptedOffers = append(e.AcceptedOffers, offer)
	return Answer("0"), nil
}

func (e *Engine) AcceptAnswer(pending core.PendingAnswer, answer webrtc.SessionDescription) error {
	if e.pending == 0 {
		return core.ErrNoPendingOffer
	}
	if pending.Seq != e.pending {
		return core.ErrStaleAnswer
	}
	if e.AnswerErr != nil {
		return e.AnswerErr
	}
	e.pending = 0
	e.Answers = append(e.Answers, answer)
	return nil
}

// Writer returns the writer for mid, creating a default one on first use.
func (e *Engine) Writer(mid core.Mid) (core.Writer, bool) {
	return e.WriterFor(mid), true
}

func (e *Engine) WriterFor(mid core.Mid) *Writer {
	w, ok := e.Writers[mid]
	if !ok {
		w = NewWriter()
		e.Writers[mid] = w
	}
	return w
}

func (e *Engine) Channel(id core.ChannelID) (core.Channel, bool) {
	ch, ok := e.Channels[id]
	if !ok {
		return nil, false
	}
	return ch, true
}

// OpenChannel registers a channel and queues the matching ChannelOpened event.
func (e *Engine) OpenChannel(id core.ChannelID, label string) *Channel {
	ch := &Channel{}
	e.Channels[id] = ch
	e.QueueEvent(core.ChannelOpened{ID: id, Label: label})
	return ch
}

func (e *Engine) AddLocalCandidate(addr *net.UDPAddr) error {
	e.Candidates = append(e.Candidates, addr)
	return nil
}

type changeSet struct {
	e      *Engine
	staged int
}

func (c *changeSet) AddMedia(kind core.MediaKind, dir webrtc.RTPTransceiverDirection, label string) (core.Mid, error) {
	mid := core.Mid(fmt.Sprintf("%d", c.e.nextMid))
	c.e.nextMid++
	c.e.Added = append(c.e.Added, AddedMedia{Mid: mid, Kind: kind, Direction: dir, StreamLabel: label})
	c.staged++
	return mid, nil
}

func (c *changeSet) AddChannel(string) (core.ChannelID, error) {
	id := core.ChannelID(len(c.e.Channels) + 1)
	c.e.Channels[id] = &Channel{}
	c.staged++
	return id, nil
}

func (c *changeSet) Apply() (webrtc.SessionDescription, core.PendingAnswer, error) {
	if c.staged == 0 {
		return webrtc.SessionDescription{}, core.PendingAnswer{}, core.ErrNoChanges
	}
	if c.e.pending != 0 {
		return webrtc.SessionDescription{}, core.PendingAnswer{}, core.ErrOfferPending
	}
	if c.e.ApplyErr != nil {
		return webrtc.SessionDescription{}, core.PendingAnswer{}, c.e.ApplyErr
	}
	c.e.seq++
	c.e.pending = c.e.seq
	offer := Offer("0")
	c.e.Offers = append(c.e.Offers, offer)
	return offer, core.PendingAnswer{Seq: c.e.seq}, nil
}

// Channel records every write.
type Channel struct {
	Err    error
	Writes []ChannelWrite
}

type ChannelWrite struct {
	Binary bool
	Data   []byte
}

func (c *Channel) Write(binary bool, data []byte) error {
	if c.Err != nil {
		return c.Err
	}
	c.Writes = append(c.Writes, ChannelWrite{Binary: binary, Data: append([]byte(nil), data...)})
	return nil
}

// Last returns the most recent write, or the zero value.
func (c *Channel) Last() ChannelWrite {
	if len(c.Writes) == 0 {
		return ChannelWrite{}
	}
	return c.Writes[len(c.Writes)-1]
}

// Writer maps mime types to payload types and records writes.
type Writer struct {
	PayloadTypes map[string]webrtc.PayloadType
	WriteErr     error
	KeyframeErr  error
	Written      []Written
	Keyframes    []KeyframeCall
}

type Written struct {
	PayloadType webrtc.PayloadType
	NetworkTime time.Time
	Frame       core.MediaFrame
}

type KeyframeCall struct {
	Rid  core.Rid
	Kind core.KeyframeKind
}

func NewWriter() *Writer {
	return &Writer{PayloadTypes: map[string]webrtc.PayloadType{
		strings.ToLower(webrtc.MimeTypeVP8):  96,
		strings.ToLower(webrtc.MimeTypeOpus): 111,
	}}
}

func (w *Writer) MatchParams(remote webrtc.RTPCodecParameters) (webrtc.PayloadType, bool) {
	pt, ok := w.PayloadTypes[strings.ToLower(remote.MimeType)]
	return pt, ok
}

func (w *Writer) Write(pt webrtc.PayloadType, networkTime time.Time, frame core.MediaFrame) error {
	if w.WriteErr != nil {
		return w.WriteErr
	}
	w.Written = append(w.Written, Written{PayloadType: pt, NetworkTime: networkTime, Frame: frame})
	return nil
}

func (w *Writer) RequestKeyframe(rid core.Rid, kind core.KeyframeKind) error {
	if w.KeyframeErr != nil {
		return w.KeyframeErr
	}
	w.Keyframes = append(w.Keyframes, KeyframeCall{Rid: rid, Kind: kind})
	return nil
}
