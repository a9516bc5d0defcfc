package rtc

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type stagedMedia struct {
	key         core.Mid
	track       *relayTrack
	transceiver *webrtc.RTPTransceiver
}

type changeSet struct {
	e        *Engine
	media    []stagedMedia
	channels int
}

func (c *changeSet) AddMedia(kind core.MediaKind, dir webrtc.RTPTransceiverDirection, streamLabel string) (core.Mid, error) {
	track := newRelayTrack(uuid.NewString(), streamLabel, kind)
	tr, err := c.e.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{Direction: dir})
	if err != nil {
		return "", fmt.Errorf("add transceiver: %w", err)
	}
	// pion only numbers transceivers that have no mid yet.
	key := c.e.allocateMid()
	if err := tr.SetMid(string(key)); err != nil {
		_ = tr.Stop()
		return "", fmt.Errorf("set mid %s: %w", key, err)
	}
	c.media = append(c.media, stagedMedia{key: key, track: track, transceiver: tr})
	return key, nil
}

func (c *changeSet) AddChannel(label string) (core.ChannelID, error) {
	dc, err := c.e.pc.CreateDataChannel(label, nil)
	if err != nil {
		return 0, fmt.Errorf("create data channel: %w", err)
	}
	c.channels++
	return c.e.registerChannel(dc), nil
}

func (c *changeSet) Apply() (webrtc.SessionDescription, core.PendingAnswer, error) {
	if len(c.media) == 0 && c.channels == 0 {
		return webrtc.SessionDescription{}, core.PendingAnswer{}, core.ErrNoChanges
	}
	if c.e.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		c.discard()
		return webrtc.SessionDescription{}, core.PendingAnswer{}, core.ErrOfferPending
	}

	offer, err := c.e.pc.CreateOffer(nil)
	if err == nil {
		err = c.e.pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.discard()
		return webrtc.SessionDescription{}, core.PendingAnswer{}, fmt.Errorf("local offer: %w", err)
	}

	c.e.mu.Lock()
	for _, m := range c.media {
		c.e.outbound[m.key] = &outboundTrack{track: m.track, transceiver: m.transceiver}
	}
	c.e.seq++
	c.e.pendingSeq = c.e.seq
	pending := core.PendingAnswer{Seq: c.e.seq}
	c.e.mu.Unlock()

	for _, m := range c.media {
		go c.e.readSenderRTCP(m.key, m.transceiver.Sender())
	}
	return *c.e.pc.LocalDescription(), pending, nil
}

func (c *changeSet) discard() {
	for _, m := range c.media {
		if err := m.transceiver.Stop(); err != nil {
			c.e.log.Debug().Err(err).Msg("stop transceiver")
		}
	}
	c.media = nil
}
