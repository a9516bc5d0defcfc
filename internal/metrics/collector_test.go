package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Records(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetSessions(3)
	c.SessionAdmitted()
	c.SessionAdmitted()
	c.MediaDropped(DropLayer)
	c.Keyframe(KeyframeThrottled)
	c.TracksPruned(0)
	c.TracksPruned(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.admitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mediaDropped.WithLabelValues(DropLayer)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.mediaDropped.WithLabelValues(DropNoMid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keyframes.WithLabelValues(KeyframeThrottled)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.prunedTracks))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetSessions(1)
		c.SessionReaped()
		c.Propagated("noop")
		c.MediaForwarded()
		c.Renegotiation(RenegotiationSent)
		c.RecoveryAttempt()
		c.DemuxMiss()
	})
}
