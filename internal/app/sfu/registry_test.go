package sfu

import (
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackRegistry_OutgoingLifecycle(t *testing.T) {
	arena := core.NewTrackArena()
	src := NewTrackRegistry(arena, time.Second)
	dst := NewTrackRegistry(arena, time.Second)

	e, added := src.AddIncoming(1, "0", core.MediaKindAudio)
	require.True(t, added)
	_, added = src.AddIncoming(1, "0", core.MediaKindAudio)
	assert.False(t, added, "same mid twice")

	assert.True(t, dst.HandleTrackOpened(e.Handle))
	assert.False(t, dst.HandleTrackOpened(e.Handle), "duplicate handle")

	_, ok := dst.ResolveOutgoingMid(1, "0")
	assert.False(t, ok, "to-open tracks have no mid")

	ot := dst.Outgoing()[0]
	_, ok = ot.Mid()
	assert.False(t, ok)

	ot.MarkNegotiating("4")
	mid, ok := dst.ResolveOutgoingMid(1, "0")
	require.True(t, ok)
	assert.Equal(t, core.Mid("4"), mid)

	ot.MarkOpen()
	assert.Equal(t, TrackOpen, ot.State())
	tin, ok := dst.ResolveOutgoing("4")
	require.True(t, ok)
	assert.Equal(t, core.TrackIn{Origin: 1, Mid: "0", Kind: core.MediaKindAudio}, tin)

	ot.MarkToOpen()
	_, ok = ot.Mid()
	assert.False(t, ok)
}

func TestTrackRegistry_PruneAndRetire(t *testing.T) {
	arena := core.NewTrackArena()
	src := NewTrackRegistry(arena, time.Second)
	dst := NewTrackRegistry(arena, time.Second)

	a, _ := src.AddIncoming(1, "0", core.MediaKindVideo)
	b, _ := src.AddIncoming(1, "1", core.MediaKindAudio)
	dst.HandleTrackOpened(a.Handle)
	dst.HandleTrackOpened(b.Handle)
	dst.Outgoing()[1].MarkNegotiating("9")
	dst.Outgoing()[1].MarkOpen()

	assert.Len(t, src.IncomingHandles(), 2)
	assert.Equal(t, 0, dst.Prune())

	assert.Equal(t, 2, src.RetireAll())
	assert.Empty(t, src.IncomingHandles())
	assert.Equal(t, 2, dst.Prune())
	assert.Empty(t, dst.Outgoing())
	assert.Equal(t, 0, arena.Len())
}
