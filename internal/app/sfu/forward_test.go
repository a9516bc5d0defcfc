package sfu

import (
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/enginetest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPair returns a publisher a with track "0" and a subscriber b whose
// TrackOut for it is open on mid "100".
func openPair(t *testing.T) (*fixture, *Session, *Session, *enginetest.Engine) {
	t.Helper()
	f := newFixture()
	a, engA := f.session(1)
	b, engB := f.session(2)
	b.HandleTrackOpened(openTrack(t, a, engA, "0"))
	ot := b.Tracks().Outgoing()[0]
	ot.MarkNegotiating("100")
	ot.MarkOpen()
	return f, a, b, engB
}

func TestForward_WritesToNegotiatedMid(t *testing.T) {
	_, a, b, engB := openPair(t)

	b.HandleMedia(a.ID(), vp8Frame("0", "", true))

	w := engB.WriterFor("100")
	require.Len(t, w.Written, 1)
	assert.Equal(t, webrtc.PayloadType(96), w.Written[0].PayloadType)
	assert.Equal(t, uint32(3000), w.Written[0].Frame.MediaTime())
}

func TestForward_SimulcastFilter(t *testing.T) {
	_, a, b, engB := openPair(t)

	b.HandleMedia(a.ID(), vp8Frame("0", "l", true))
	b.HandleMedia(a.ID(), vp8Frame("0", "m", true))
	assert.Empty(t, engB.WriterFor("100").Written)
	assert.Equal(t, core.Rid(""), b.ChosenLayer())

	b.HandleMedia(a.ID(), vp8Frame("0", "h", true))
	assert.Len(t, engB.WriterFor("100").Written, 1)
	assert.Equal(t, core.Rid("h"), b.ChosenLayer())
}

func TestForward_DropsUnnegotiatedAndUnknown(t *testing.T) {
	f := newFixture()
	a, engA := f.session(1)
	b, engB := f.session(2)
	b.HandleTrackOpened(openTrack(t, a, engA, "0"))

	// Still to open: no local mid yet.
	b.HandleMedia(a.ID(), vp8Frame("0", "", true))
	// Unknown origin track.
	b.HandleMedia(a.ID(), vp8Frame("5", "", true))
	b.HandleMedia(9, vp8Frame("0", "", true))

	assert.Empty(t, engB.Writers)
}

func TestForward_NoPayloadTypeDrops(t *testing.T) {
	_, a, b, engB := openPair(t)

	frame := vp8Frame("0", "", true)
	frame.Params.MimeType = webrtc.MimeTypeH264
	b.HandleMedia(a.ID(), frame)

	assert.Empty(t, engB.WriterFor("100").Written)
	assert.True(t, b.IsAlive())
}

func TestForward_WriteErrorDisconnects(t *testing.T) {
	_, a, b, engB := openPair(t)
	engB.WriterFor("100").WriteErr = enginetest.ErrInjected

	b.HandleMedia(a.ID(), vp8Frame("0", "", true))

	assert.False(t, b.IsAlive())
	assert.Equal(t, 1, engB.Disconnects)
}

func TestForward_StopsAfterOriginCloses(t *testing.T) {
	_, a, b, engB := openPair(t)
	a.Close()

	b.HandleMedia(a.ID(), vp8Frame("0", "", true))
	assert.Empty(t, engB.WriterFor("100").Written)
	assert.Equal(t, 1, b.PruneTracks())
}
