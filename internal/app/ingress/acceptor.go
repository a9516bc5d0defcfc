package ingress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBadOffer = errors.New("ingress: bad offer")

// EngineFactory builds an engine for a peer's initial offer and returns the answer.
type EngineFactory interface {
	NewEngine(ctx context.Context, offer webrtc.SessionDescription) (core.Engine, webrtc.SessionDescription, error)
}

// Acceptor implements core.OfferAcceptor on top of an EngineFactory and a Handoff.
type Acceptor struct {
	Factory EngineFactory
	Handoff *Handoff
}

func NewAcceptor(f EngineFactory, h *Handoff) *Acceptor {
	return &Acceptor{Factory: f, Handoff: h}
}

func (a *Acceptor) Accept(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ValidateOffer(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	log.Info().
		Str("module", "ingress").
		Int("data_channels", strings.Count(offer.SDP, "m=application")).
		Msg("received offer")

	engine, answer, err := a.Factory.NewEngine(ctx, offer)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create engine: %w", err)
	}

	if err := a.Handoff.Push(ctx, engine); err != nil {
		engine.Disconnect()
		return webrtc.SessionDescription{}, err
	}

	log.Info().Str("module", "ingress").Msg("session handed off")
	return answer, nil
}

// ValidateOffer checks that offer is an SDP offer with at least one media section.
func ValidateOffer(offer webrtc.SessionDescription) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: type %s", ErrBadOffer, offer.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadOffer, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrBadOffer)
	}
	return nil
}

var _ core.OfferAcceptor = (*Acceptor)(nil)
