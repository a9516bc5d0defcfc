package sfu

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// NegotiationDriver runs at most one local offer/answer round per session,
// over the session's own control channel. The relay never abandons its own
// offer: when offers cross, the peer is expected to roll back and answer.
type NegotiationDriver struct {
	engine  core.Engine
	tracks  *TrackRegistry
	arena   *core.TrackArena
	metrics *metrics.Collector
	log     zerolog.Logger

	channel    core.ChannelID
	hasChannel bool
	pending    *core.PendingAnswer
	// offer is the pending offer, kept for resending.
	offer webrtc.SessionDescription
	// resend is set while the peer may not hold a usable copy of offer.
	resend bool
	// attempted limits renegotiation to once per poll loop.
	attempted bool
}

func NewNegotiationDriver(engine core.Engine, tracks *TrackRegistry, arena *core.TrackArena, m *metrics.Collector, logger zerolog.Logger) *NegotiationDriver {
	return &NegotiationDriver{
		engine:  engine,
		tracks:  tracks,
		arena:   arena,
		metrics: m,
		log:     logger,
	}
}

// SetChannel records the control channel. Only the first one counts.
func (d *NegotiationDriver) SetChannel(id core.ChannelID) bool {
	if d.hasChannel {
		return false
	}
	d.channel = id
	d.hasChannel = true
	return true
}

func (d *NegotiationDriver) Channel() (core.ChannelID, bool) { return d.channel, d.hasChannel }

func (d *NegotiationDriver) Pending() bool { return d.pending != nil }

// Due reports whether Renegotiate has work to do in this poll loop: a new
// round for queued tracks, or resending the pending offer.
func (d *NegotiationDriver) Due() bool {
	if !d.hasChannel || d.attempted {
		return false
	}
	if d.pending != nil {
		return d.resend
	}
	return d.tracks.CountState(TrackToOpen) > 0
}

// EndRound re-arms Due for the next poll loop.
func (d *NegotiationDriver) EndRound() { d.attempted = false }

// Renegotiate adds a send-only line for every pending track and sends the
// resulting offer over the control channel. With a round already in flight
// it only resends that round's offer.
func (d *NegotiationDriver) Renegotiate() error {
	d.attempted = true
	if d.pending != nil {
		return d.resendOffer()
	}

	cs := d.engine.BeginChange()
	added := 0
	for _, ot := range d.tracks.Outgoing() {
		if ot.State() != TrackToOpen {
			continue
		}
		t, ok := d.arena.Resolve(ot.Track)
		if !ok {
			continue
		}
		mid, err := cs.AddMedia(t.Kind, webrtc.RTPTransceiverDirectionSendonly, t.Origin.String())
		if err != nil {
			d.log.Warn().Err(err).Str("origin", t.Origin.String()).Msg("add media failed")
			continue
		}
		ot.MarkNegotiating(mid)
		added++
	}
	if n := d.tracks.Prune(); n > 0 {
		d.metrics.TracksPruned(n)
	}
	if added == 0 {
		return core.ErrNoChanges
	}

	offer, pending, err := cs.Apply()
	if err != nil {
		d.revert()
		d.metrics.Renegotiation(metrics.RenegotiationFailed)
		d.log.Warn().Err(err).Msg("create offer failed")
		return fmt.Errorf("apply changes: %w", err)
	}

	// From here the engine holds a local offer that only an answer can
	// complete, so the round stays pending even if the send fails.
	d.pending = &pending
	d.offer = offer
	if err := d.send(offer); err != nil {
		d.resend = true
		d.metrics.Renegotiation(metrics.RenegotiationFailed)
		d.log.Warn().Err(err).Msg("send offer failed, will resend")
		return err
	}
	d.resend = false
	d.metrics.Renegotiation(metrics.RenegotiationSent)
	d.log.Info().Int("tracks", added).Msg("offer sent")
	return nil
}

func (d *NegotiationDriver) resendOffer() error {
	if err := d.send(d.offer); err != nil {
		d.resend = true
		d.log.Debug().Err(err).Msg("resend offer failed")
		return err
	}
	d.resend = false
	d.metrics.Renegotiation(metrics.RenegotiationResent)
	d.log.Info().Msg("offer resent")
	return nil
}

// HandleRemoteOffer answers an offer from the peer. While a local offer is
// in flight the peer's offer is dropped: the peer is expected to roll its
// own offer back, answer ours and offer again afterwards.
func (d *NegotiationDriver) HandleRemoteOffer(offer webrtc.SessionDescription) error {
	answer, err := d.engine.AcceptOffer(offer)
	if errors.Is(err, core.ErrOfferPending) {
		d.metrics.Renegotiation(metrics.RenegotiationCrossed)
		d.log.Info().
			Int("tracks", d.tracks.CountState(TrackNegotiating)).
			Msg("crossed negotiation, peer offer ignored")
		return nil
	}
	if err != nil {
		d.log.Warn().Err(err).Msg("accept offer failed")
		return fmt.Errorf("accept offer: %w", err)
	}
	if err := d.send(answer); err != nil {
		d.log.Warn().Err(err).Msg("send answer failed")
		return err
	}
	return nil
}

// HandleAnswer completes the pending round. A rejected answer keeps the
// round pending and the offer is resent on the next poll loop.
func (d *NegotiationDriver) HandleAnswer(answer webrtc.SessionDescription) error {
	if d.pending == nil {
		d.log.Warn().Msg("answer without pending offer")
		return core.ErrNoPendingOffer
	}

	if err := d.engine.AcceptAnswer(*d.pending, answer); err != nil {
		if errors.Is(err, core.ErrStaleAnswer) {
			d.log.Debug().Msg("stale answer ignored")
			return err
		}
		d.attempted = true
		d.resend = true
		d.metrics.Renegotiation(metrics.RenegotiationFailed)
		d.log.Warn().Err(err).Msg("accept answer failed, will resend offer")
		return fmt.Errorf("accept answer: %w", err)
	}
	d.pending = nil
	d.offer = webrtc.SessionDescription{}
	d.resend = false

	n := 0
	for _, ot := range d.tracks.Outgoing() {
		if ot.State() == TrackNegotiating {
			ot.MarkOpen()
			n++
		}
	}
	d.metrics.Renegotiation(metrics.RenegotiationOpened)
	d.log.Info().Int("tracks", n).Msg("negotiation complete")
	return nil
}

// revert returns a round that never produced an offer to TrackToOpen.
func (d *NegotiationDriver) revert() {
	for _, ot := range d.tracks.Outgoing() {
		if ot.State() == TrackNegotiating {
			ot.MarkToOpen()
		}
	}
}

func (d *NegotiationDriver) send(desc webrtc.SessionDescription) error {
	ch, ok := d.engine.Channel(d.channel)
	if !d.hasChannel || !ok {
		return core.ErrNoChannel
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", desc.Type, err)
	}
	if err := ch.Write(false, data); err != nil {
		return fmt.Errorf("write %s: %w", desc.Type, err)
	}
	return nil
}
