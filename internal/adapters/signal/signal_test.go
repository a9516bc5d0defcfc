package signal

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/app/ingress"
)

type fakeAcceptor struct {
	mu     sync.Mutex
	offers []webrtc.SessionDescription
	err    error
}

func (f *fakeAcceptor) Accept(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offer)
	if f.err != nil {
		return webrtc.SessionDescription{}, f.err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for:" + offer.SDP}, nil
}

func dial(t *testing.T, acc *fakeAcceptor, opts Options) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ctl := NewSignalWSController(acc, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, msg string) map[string]string {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp map[string]string
	require.NoError(t, ws.ReadJSON(&resp))
	return resp
}

func TestSignal_Ping(t *testing.T) {
	ws := dial(t, &fakeAcceptor{}, Options{})
	assert.Equal(t, "pong", roundTrip(t, ws, `{"type":"ping"}`)["type"])
}

func TestSignal_OfferAnswered(t *testing.T) {
	acc := &fakeAcceptor{}
	ws := dial(t, acc, Options{})

	resp := roundTrip(t, ws, `{"type":"offer","sdp":"v=0"}`)
	assert.Equal(t, "answer", resp["type"])
	assert.Equal(t, "answer-for:v=0", resp["sdp"])

	acc.mu.Lock()
	defer acc.mu.Unlock()
	require.Len(t, acc.offers, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, acc.offers[0].Type)
}

func TestSignal_OfferErrors(t *testing.T) {
	ws := dial(t, &fakeAcceptor{err: ingress.ErrBadOffer}, Options{})
	resp := roundTrip(t, ws, `{"type":"offer","sdp":"junk"}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "bad offer", resp["message"])

	ws = dial(t, &fakeAcceptor{err: errors.New("pool gone")}, Options{})
	resp = roundTrip(t, ws, `{"type":"offer","sdp":"v=0"}`)
	assert.Equal(t, "unavailable", resp["message"])
}

func TestSignal_UnknownAndMalformed(t *testing.T) {
	ws := dial(t, &fakeAcceptor{}, Options{})
	assert.Equal(t, "unknown type: join", roundTrip(t, ws, `{"type":"join"}`)["message"])
	assert.Equal(t, "bad json", roundTrip(t, ws, `{`)["message"])
}

func TestSignal_RateLimited(t *testing.T) {
	ws := dial(t, &fakeAcceptor{}, Options{MessagesPerSecond: 0.001, Burst: 1})

	assert.Equal(t, "pong", roundTrip(t, ws, `{"type":"ping"}`)["type"])
	resp := roundTrip(t, ws, `{"type":"ping"}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "rate limited", resp["message"])
}
