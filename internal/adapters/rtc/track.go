package rtc

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var errTrackNotBound = errors.New("rtc: track not bound")

// relayTrack is a local track that accepts packets of any negotiated codec
// and rewrites them onto its own SSRC.
type relayTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType

	mu     sync.RWMutex
	bound  bool
	ssrc   webrtc.SSRC
	codecs []webrtc.RTPCodecParameters
	writer webrtc.TrackLocalWriter
}

func newRelayTrack(id, streamID string, kind webrtc.RTPCodecType) *relayTrack {
	return &relayTrack{id: id, streamID: streamID, kind: kind}
}

func (t *relayTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	codecs := ctx.CodecParameters()
	if len(codecs) == 0 {
		return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = true
	t.ssrc = ctx.SSRC()
	t.codecs = append([]webrtc.RTPCodecParameters(nil), codecs...)
	t.writer = ctx.WriteStream()
	return codecs[0], nil
}

func (t *relayTrack) Unbind(webrtc.TrackLocalContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = false
	t.writer = nil
	t.codecs = nil
	return nil
}

func (t *relayTrack) ID() string                { return t.id }
func (t *relayTrack) RID() string               { return "" }
func (t *relayTrack) StreamID() string          { return t.streamID }
func (t *relayTrack) Kind() webrtc.RTPCodecType { return t.kind }

// payloadType finds the negotiated payload type for a remote codec.
func (t *relayTrack) payloadType(remote webrtc.RTPCodecParameters) (webrtc.PayloadType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		fallback webrtc.PayloadType
		found    bool
	)
	for _, c := range t.codecs {
		if !strings.EqualFold(c.MimeType, remote.MimeType) || c.ClockRate != remote.ClockRate {
			continue
		}
		if c.SDPFmtpLine == remote.SDPFmtpLine {
			return c.PayloadType, true
		}
		if !found {
			fallback, found = c.PayloadType, true
		}
	}
	return fallback, found
}

func (t *relayTrack) write(pt webrtc.PayloadType, pkt *rtp.Packet) error {
	t.mu.RLock()
	w, ssrc, bound := t.writer, t.ssrc, t.bound
	t.mu.RUnlock()
	if !bound || w == nil {
		return errTrackNotBound
	}

	hdr := pkt.Header
	hdr.PayloadType = uint8(pt)
	hdr.SSRC = uint32(ssrc)
	hdr.Extension = false
	hdr.ExtensionProfile = 0
	hdr.Extensions = nil

	_, err := w.WriteRTP(&hdr, pkt.Payload)
	return err
}

var _ webrtc.TrackLocal = (*relayTrack)(nil)
