package rtc

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindingRequest(t *testing.T, username string) []byte {
	t.Helper()
	m, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.NewUsername(username))
	require.NoError(t, err)
	return m.Raw
}

func bareEngine() *Engine {
	conn := newVirtualConn(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}, 8, func(*net.UDPAddr, []byte) {})
	e := newEngine("localufrag", conn, 5*time.Millisecond, 2, zerolog.Nop())
	conn.transmit = e.transmit
	return e
}

func TestEngine_AcceptsByUfrag(t *testing.T) {
	e := bareEngine()
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 50000}
	now := time.Now()

	mine := core.ReceiveInput(now, peer, nil, bindingRequest(t, "localufrag:remote"))
	other := core.ReceiveInput(now, peer, nil, bindingRequest(t, "otherufrag:remote"))
	dtls := core.ReceiveInput(now, peer, nil, []byte{22, 254, 253, 0, 0})

	assert.True(t, e.Accepts(mine))
	assert.False(t, e.Accepts(other))
	assert.False(t, e.Accepts(dtls), "unknown source")
	assert.False(t, e.Accepts(core.TimeoutInput(now)))

	require.NoError(t, e.HandleInput(mine))
	assert.True(t, e.Accepts(dtls), "source learned from the binding request")
}

func TestEngine_AcceptsTransmitDestinations(t *testing.T) {
	e := bareEngine()
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 50001}

	_, err := e.conn.WriteTo([]byte("check"), peer)
	require.NoError(t, err)
	assert.True(t, e.Accepts(core.ReceiveInput(time.Now(), peer, nil, []byte("response"))))

	out, err := e.PollOutput()
	require.NoError(t, err)
	require.Equal(t, core.OutputTransmit, out.Kind)
	assert.Equal(t, peer, out.Transmit.Destination)
}

func TestEngine_OutputQueueBounded(t *testing.T) {
	e := bareEngine()
	for range 5 {
		e.emitEvent(core.ChannelOpened{ID: 1})
	}

	for range 2 {
		out, err := e.PollOutput()
		require.NoError(t, err)
		assert.Equal(t, core.OutputEvent, out.Kind)
	}
	out, err := e.PollOutput()
	require.NoError(t, err)
	assert.Equal(t, core.OutputTimeout, out.Kind)
	assert.True(t, out.Timeout.After(time.Now().Add(-time.Second)))
}

func TestEngine_AnswerWithoutOffer(t *testing.T) {
	e := bareEngine()
	assert.ErrorIs(t, e.AcceptAnswer(core.PendingAnswer{Seq: 1}, webrtc.SessionDescription{}), core.ErrNoPendingOffer)

	e.pendingSeq = 2
	assert.ErrorIs(t, e.AcceptAnswer(core.PendingAnswer{Seq: 1}, webrtc.SessionDescription{}), core.ErrStaleAnswer)
}

func TestRelayTrack_PayloadType(t *testing.T) {
	tr := newRelayTrack("id", "7", webrtc.RTPCodecTypeVideo)
	_, ok := tr.payloadType(webrtc.RTPCodecParameters{})
	assert.False(t, ok, "unbound track matches nothing")

	tr.codecs = []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "profile-level-id=42001f"}, PayloadType: 102},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "profile-level-id=42e01f"}, PayloadType: 106},
	}

	pt, ok := tr.payloadType(webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/vp8", ClockRate: 90000}})
	require.True(t, ok)
	assert.Equal(t, webrtc.PayloadType(96), pt)

	pt, ok = tr.payloadType(webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "profile-level-id=42e01f"}})
	require.True(t, ok)
	assert.Equal(t, webrtc.PayloadType(106), pt)

	_, ok = tr.payloadType(webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000}})
	assert.False(t, ok)
}

func TestLoggerFactory_WritesScope(t *testing.T) {
	var buf bytes.Buffer
	f := NewLoggerFactory(zerolog.New(&buf))

	f.NewLogger("ice").Warnf("candidate %d failed", 3)

	out := buf.String()
	assert.Contains(t, out, `"module":"pion"`)
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "candidate 3 failed")
}

func TestFactory_AnswersOffer(t *testing.T) {
	peer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer peer.Close()

	_, err = peer.CreateDataChannel("control", nil)
	require.NoError(t, err)
	_, err = peer.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	require.NoError(t, err)
	offer, err := peer.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, peer.SetLocalDescription(offer))

	local := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 43210}
	f := NewFactory(Config{LocalAddr: local, GatherTimeout: 5 * time.Second}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng, answer, err := f.NewEngine(ctx, offer)
	require.NoError(t, err)
	defer eng.Disconnect()

	e := eng.(*Engine)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "a=ice-ufrag:"+e.ufrag)
	assert.True(t, strings.Contains(answer.SDP, "43210"), "host candidate uses the pool socket port")
	assert.True(t, e.IsAlive())
}
