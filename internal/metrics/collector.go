package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for forwarded media.
const (
	DropNoMid         = "no_mid"
	DropLayer         = "layer"
	DropNoPayloadType = "no_payload_type"
	DropWriteError    = "write_error"
)

// Keyframe request outcomes.
const (
	KeyframeIssued    = "issued"
	KeyframeRelayed   = "relayed"
	KeyframeThrottled = "throttled"
	KeyframeFailed    = "failed"
)

// Renegotiation outcomes.
const (
	RenegotiationSent    = "sent"
	RenegotiationResent  = "resent"
	RenegotiationFailed  = "failed"
	RenegotiationCrossed = "crossed"
	RenegotiationOpened  = "opened"
)

// Collector groups the pool metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	sessions       prometheus.Gauge
	admitted       prometheus.Counter
	reaped         prometheus.Counter
	propagated     *prometheus.CounterVec
	mediaForwarded prometheus.Counter
	mediaDropped   *prometheus.CounterVec
	keyframes      *prometheus.CounterVec
	renegotiations *prometheus.CounterVec
	recoveries     prometheus.Counter
	demuxMisses    prometheus.Counter
	prunedTracks   prometheus.Counter
}

func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions",
			Help: "Number of sessions in the pool",
		}),
		admitted: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_admitted_total",
			Help: "Sessions adopted from the ingress handoff",
		}),
		reaped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_reaped_total",
			Help: "Sessions removed after reporting not alive",
		}),
		propagated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_propagated_events_total",
			Help: "Events fanned out between sessions",
		}, []string{"kind"}),
		mediaForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_media_forwarded_total",
			Help: "Media frames written to a destination session",
		}),
		mediaDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_dropped_total",
			Help: "Media frames not written to a destination session",
		}, []string{"reason"}),
		keyframes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_keyframe_requests_total",
			Help: "Keyframe requests by outcome",
		}, []string{"result"}),
		renegotiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_renegotiations_total",
			Help: "Offer/answer rounds by outcome",
		}, []string{"result"}),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_recovery_attempts_total",
			Help: "Best-effort recovery attempts on unhealthy sessions",
		}),
		demuxMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_demux_misses_total",
			Help: "Datagrams no session accepted",
		}),
		prunedTracks: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_pruned_tracks_total",
			Help: "Outgoing tracks removed after their source went away",
		}),
	}
}

func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(n))
}

func (c *Collector) SessionAdmitted() {
	if c == nil {
		return
	}
	c.admitted.Inc()
}

func (c *Collector) SessionReaped() {
	if c == nil {
		return
	}
	c.reaped.Inc()
}

func (c *Collector) Propagated(kind string) {
	if c == nil {
		return
	}
	c.propagated.WithLabelValues(kind).Inc()
}

func (c *Collector) MediaForwarded() {
	if c == nil {
		return
	}
	c.mediaForwarded.Inc()
}

func (c *Collector) MediaDropped(reason string) {
	if c == nil {
		return
	}
	c.mediaDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) Keyframe(result string) {
	if c == nil {
		return
	}
	c.keyframes.WithLabelValues(result).Inc()
}

func (c *Collector) Renegotiation(result string) {
	if c == nil {
		return
	}
	c.renegotiations.WithLabelValues(result).Inc()
}

func (c *Collector) RecoveryAttempt() {
	if c == nil {
		return
	}
	c.recoveries.Inc()
}

func (c *Collector) DemuxMiss() {
	if c == nil {
		return
	}
	c.demuxMisses.Inc()
}

func (c *Collector) TracksPruned(n int) {
	if c == nil || n == 0 {
		return
	}
	c.prunedTracks.Add(float64(n))
}
