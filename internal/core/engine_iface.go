package core

import (
	"errors"
	"net"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrNotAlive       = errors.New("engine: not alive")
	ErrNoChanges      = errors.New("engine: no pending changes")
	ErrNoPendingOffer = errors.New("engine: no pending offer")
	ErrOfferPending   = errors.New("engine: local offer awaiting answer")
	ErrStaleAnswer    = errors.New("engine: answer does not match pending offer")
	ErrUnknownMid     = errors.New("engine: unknown mid")
	ErrNoChannel      = errors.New("engine: unknown channel")
	ErrLayerMismatch  = errors.New("engine: no media for layer")
)

type InputKind int

const (
	InputReceive InputKind = iota
	InputTimeout
)

// Input is either a received datagram or a clock tick.
type Input struct {
	Kind        InputKind
	At          time.Time
	Source      *net.UDPAddr
	Destination *net.UDPAddr
	Contents    []byte
}

func ReceiveInput(at time.Time, src, dst *net.UDPAddr, contents []byte) Input {
	return Input{Kind: InputReceive, At: at, Source: src, Destination: dst, Contents: contents}
}

func TimeoutInput(at time.Time) Input {
	return Input{Kind: InputTimeout, At: at}
}

type OutputKind int

const (
	OutputTransmit OutputKind = iota
	OutputTimeout
	OutputEvent
)

// Transmit is a datagram the engine wants sent.
type Transmit struct {
	Destination *net.UDPAddr
	Contents    []byte
}

// Output is one unit drained from an engine by PollOutput.
type Output struct {
	Kind     OutputKind
	Transmit Transmit
	Timeout  time.Time
	Event    EngineEvent
}

func TransmitOutput(dst *net.UDPAddr, contents []byte) Output {
	return Output{Kind: OutputTransmit, Transmit: Transmit{Destination: dst, Contents: contents}}
}

func TimeoutOutput(at time.Time) Output {
	return Output{Kind: OutputTimeout, Timeout: at}
}

func EventOutput(ev EngineEvent) Output {
	return Output{Kind: OutputEvent, Event: ev}
}

// EngineEvent is something the engine observed and the session must interpret.
type EngineEvent interface {
	engineEvent()
}

type IceStateChanged struct {
	State webrtc.ICEConnectionState
}

type ChannelOpened struct {
	ID    ChannelID
	Label string
}

type ChannelData struct {
	ID     ChannelID
	Data   []byte
	Binary bool
}

// MediaAdded reports a media line added by the peer's offer.
type MediaAdded struct {
	Mid       Mid
	Kind      MediaKind
	Direction webrtc.RTPTransceiverDirection
}

type MediaReceived struct {
	Frame MediaFrame
}

// KeyframeRequestReceived is the peer asking for a keyframe on one of our send lines.
type KeyframeRequestReceived struct {
	Request KeyframeRequest
}

func (IceStateChanged) engineEvent()         {}
func (ChannelOpened) engineEvent()           {}
func (ChannelData) engineEvent()             {}
func (MediaAdded) engineEvent()              {}
func (MediaReceived) engineEvent()           {}
func (KeyframeRequestReceived) engineEvent() {}

// PendingAnswer ties an answer to the local offer it completes.
type PendingAnswer struct {
	Seq uint64
}

// Engine is one per-peer ICE/DTLS/SRTP protocol state machine. It does no
// socket IO of its own: datagrams come in through HandleInput and go out as
// Transmit outputs.
type Engine interface {
	// Accepts tells whether in belongs to this engine. It must not mutate state.
	Accepts(in Input) bool
	HandleInput(in Input) error
	// PollOutput drains one output. When nothing is queued it returns a Timeout.
	PollOutput() (Output, error)
	IsAlive() bool
	Disconnect()

	BeginChange() ChangeSet
	// AcceptOffer fails with ErrOfferPending while a local offer awaits its
	// answer. The local offer is never rolled back.
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// AcceptAnswer leaves the local offer pending when answer is rejected.
	AcceptAnswer(pending PendingAnswer, answer webrtc.SessionDescription) error

	Writer(mid Mid) (Writer, bool)
	Channel(id ChannelID) (Channel, bool)
	AddLocalCandidate(addr *net.UDPAddr) error
}

// ChangeSet batches local SDP changes into one offer.
type ChangeSet interface {
	// AddMedia returns the mid the new line carries in the offer.
	AddMedia(kind MediaKind, dir webrtc.RTPTransceiverDirection, streamLabel string) (Mid, error)
	AddChannel(label string) (ChannelID, error)
	// Apply returns ErrNoChanges when nothing was staged and ErrOfferPending
	// while an earlier offer is unanswered.
	Apply() (webrtc.SessionDescription, PendingAnswer, error)
}

// Writer sends media on, or requests keyframes for, one media line.
type Writer interface {
	MatchParams(remote webrtc.RTPCodecParameters) (webrtc.PayloadType, bool)
	Write(pt webrtc.PayloadType, networkTime time.Time, frame MediaFrame) error
	RequestKeyframe(rid Rid, kind KeyframeKind) error
}

// Channel is a data channel writer.
type Channel interface {
	Write(binary bool, data []byte) error
}
