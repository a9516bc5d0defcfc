package ingress

import (
	"context"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/enginetest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct {
	engine *enginetest.Engine
	err    error
	calls  int
}

func (f *stubFactory) NewEngine(context.Context, webrtc.SessionDescription) (core.Engine, webrtc.SessionDescription, error) {
	f.calls++
	if f.err != nil {
		return nil, webrtc.SessionDescription{}, f.err
	}
	return f.engine, enginetest.Answer("0"), nil
}

func TestAcceptor_HandsOffEngine(t *testing.T) {
	f := &stubFactory{engine: enginetest.New()}
	h := NewHandoff()
	a := NewAcceptor(f, h)

	answer, err := a.Accept(context.Background(), enginetest.Offer("0"))
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	got, ok := h.TryTake()
	require.True(t, ok)
	assert.Same(t, f.engine, got.(*enginetest.Engine))
}

func TestAcceptor_RejectsBadOffers(t *testing.T) {
	f := &stubFactory{engine: enginetest.New()}
	a := NewAcceptor(f, NewHandoff())

	bad := []webrtc.SessionDescription{
		enginetest.Answer("0"),
		{Type: webrtc.SDPTypeOffer, SDP: "garbage"},
		enginetest.Offer(),
	}
	for _, offer := range bad {
		_, err := a.Accept(context.Background(), offer)
		assert.ErrorIs(t, err, ErrBadOffer)
	}
	assert.Zero(t, f.calls)
}

func TestAcceptor_ClosedHandoffDisconnectsEngine(t *testing.T) {
	f := &stubFactory{engine: enginetest.New()}
	h := NewHandoff()
	h.Close()

	_, err := NewAcceptor(f, h).Accept(context.Background(), enginetest.Offer("0"))
	assert.ErrorIs(t, err, ErrHandoffClosed)
	assert.False(t, f.engine.IsAlive())
}

func TestAcceptor_FactoryError(t *testing.T) {
	f := &stubFactory{err: enginetest.ErrInjected}
	_, err := NewAcceptor(f, NewHandoff()).Accept(context.Background(), enginetest.Offer("0"))
	assert.ErrorIs(t, err, enginetest.ErrInjected)
}
