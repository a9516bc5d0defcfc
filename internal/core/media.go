package core

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Mid is a media-line id inside one session's SDP.
type Mid string

// Rid is a simulcast layer tag. The empty Rid means the track is not simulcast.
type Rid string

// ChannelID identifies a data channel of a single engine instance.
type ChannelID uint16

// MediaKind is audio or video.
type MediaKind = webrtc.RTPCodecType

const (
	MediaKindAudio = webrtc.RTPCodecTypeAudio
	MediaKindVideo = webrtc.RTPCodecTypeVideo
)

type KeyframeKind int

const (
	KeyframePLI KeyframeKind = iota
	KeyframeFIR
)

func (k KeyframeKind) String() string {
	if k == KeyframeFIR {
		return "fir"
	}
	return "pli"
}

// KeyframeRequest asks the sender of Mid (layer Rid) for a fresh keyframe.
type KeyframeRequest struct {
	Mid  Mid
	Rid  Rid
	Kind KeyframeKind
}

// MediaFrame is one unit of media received on a track.
// Packet is shared between every destination; writers must not mutate it.
type MediaFrame struct {
	Mid         Mid
	Rid         Rid
	Params      webrtc.RTPCodecParameters
	NetworkTime time.Time
	Contiguous  bool
	Packet      *rtp.Packet
}

// MediaTime is the RTP timestamp of the frame.
func (f MediaFrame) MediaTime() uint32 {
	if f.Packet == nil {
		return 0
	}
	return f.Packet.Timestamp
}
