package orch

import (
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestBus_FIFOAndFiltering(t *testing.T) {
	b := NewBus(nil)

	assert.False(t, b.Push(core.Noop{}))
	assert.False(t, b.Push(core.Timeout{At: time.Now()}))
	assert.True(t, b.Push(core.TrackOpened{Origin: 1}))
	assert.True(t, b.Push(core.KeyframeRequested{Requester: 2}))
	assert.Equal(t, 2, b.Len())

	p, ok := b.Pop()
	assert.True(t, ok)
	assert.Equal(t, core.TrackOpened{Origin: 1}, p)
	p, _ = b.Pop()
	assert.Equal(t, core.KeyframeRequested{Requester: 2}, p)

	_, ok = b.Pop()
	assert.False(t, ok)
}
