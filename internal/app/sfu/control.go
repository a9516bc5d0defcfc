package sfu

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

type ControlKind int

const (
	ControlApp ControlKind = iota
	ControlOffer
	ControlAnswer
)

// ControlMessage is one decoded message from a session's control channel.
type ControlMessage struct {
	Kind ControlKind
	// Desc is set for ControlOffer and ControlAnswer.
	Desc webrtc.SessionDescription
	Data []byte
}

// ParseControl classifies control-channel data. Only JSON session
// descriptions whose SDP parses count as negotiation messages.
func ParseControl(data []byte) ControlMessage {
	msg := ControlMessage{Kind: ControlApp, Data: data}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil || strings.TrimSpace(desc.SDP) == "" {
		return msg
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return msg
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		msg.Kind = ControlOffer
	case webrtc.SDPTypeAnswer:
		msg.Kind = ControlAnswer
	default:
		return msg
	}
	msg.Desc = desc
	return msg
}

// Payload is the timestamped application message peers may send for latency checks.
type Payload struct {
	Data      []byte    `msgpack:"data"`
	Timestamp time.Time `msgpack:"timestamp"`
}

func NewPayload(data []byte, now time.Time) Payload {
	return Payload{Data: data, Timestamp: now}
}

func (p Payload) Marshal() ([]byte, error) {
	return msgpack.Marshal(&p)
}

// DecodePayload accepts only binary msgpack payloads carrying a timestamp.
func DecodePayload(data []byte) (Payload, bool) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Payload{}, false
	}
	if p.Timestamp.IsZero() {
		return Payload{}, false
	}
	return p, true
}

const echoPrefix = "echo: "

// EchoReply builds the reply to an application message. Timestamped payloads
// come back re-stamped; anything else is echoed with a prefix.
func EchoReply(data []byte, binary bool, now time.Time) (reply []byte, replyBinary bool, latency time.Duration) {
	if binary {
		if p, ok := DecodePayload(data); ok {
			latency = now.Sub(p.Timestamp)
			if out, err := NewPayload(p.Data, now).Marshal(); err == nil {
				return out, true, latency
			}
		}
	}
	out := make([]byte, 0, len(echoPrefix)+len(data))
	out = append(out, echoPrefix...)
	out = append(out, data...)
	return out, binary, 0
}
