package sfu

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/enginetest"
	"github.com/stretchr/testify/assert"
)

func TestParseControl(t *testing.T) {
	offer, _ := json.Marshal(enginetest.Offer("0"))
	answer, _ := json.Marshal(enginetest.Answer("0", "1"))

	tests := []struct {
		name string
		data []byte
		want ControlKind
	}{
		{"offer", offer, ControlOffer},
		{"answer", answer, ControlAnswer},
		{"plain text", []byte("hello"), ControlApp},
		{"json without sdp", []byte(`{"type":"offer"}`), ControlApp},
		{"json with garbage sdp", []byte(`{"type":"answer","sdp":"not sdp"}`), ControlApp},
		{"other json", []byte(`{"type":"ping"}`), ControlApp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ParseControl(tt.data)
			assert.Equal(t, tt.want, msg.Kind)
			assert.Equal(t, tt.data, msg.Data)
		})
	}
}

func TestEchoReply_TextGetsPrefix(t *testing.T) {
	reply, binary, latency := EchoReply([]byte("hi"), false, time.Now())
	assert.Equal(t, []byte("echo: hi"), reply)
	assert.False(t, binary)
	assert.Zero(t, latency)
}

func TestEchoReply_BinaryNonPayloadGetsPrefix(t *testing.T) {
	reply, binary, _ := EchoReply([]byte{0x01, 0x02}, true, time.Now())
	assert.Equal(t, append([]byte("echo: "), 0x01, 0x02), reply)
	assert.True(t, binary)
}

func TestEchoReply_PayloadLatency(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw, err := NewPayload([]byte("x"), now.Add(-25*time.Millisecond)).Marshal()
	assert.NoError(t, err)

	_, binary, latency := EchoReply(raw, true, now)
	assert.True(t, binary)
	assert.Equal(t, 25*time.Millisecond, latency)
}
