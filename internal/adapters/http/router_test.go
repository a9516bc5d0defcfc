package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/app/ingress"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/metrics"
)

type stubAcceptor struct {
	err  error
	seen []webrtc.SessionDescription
}

func (s *stubAcceptor) Accept(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.seen = append(s.seen, offer)
	if s.err != nil {
		return webrtc.SessionDescription{}, s.err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}, nil
}

type stubStats int

func (s stubStats) Size() int { return int(s) }

func newRouter(t *testing.T, acc *stubAcceptor) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Mode: "test",
		HTTP: config.HTTPConfig{StaticPath: t.TempDir(), Secret: "test-secret"},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetSessions(2)
	return SetupRouter(context.Background(), cfg, Deps{Acceptor: acc, Stats: stubStats(2), Gatherer: reg})
}

func postOffer(h http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestOffer_Answered(t *testing.T) {
	acc := &stubAcceptor{}
	w := postOffer(newRouter(t, acc), `{"type":"offer","sdp":"v=0"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var answer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.Len(t, acc.seen, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, acc.seen[0].Type)

	cookies := strings.Join(w.Header().Values("Set-Cookie"), ";")
	assert.Contains(t, cookies, "ct=")
	assert.Contains(t, cookies, "RelaySessions=")
}

func TestOffer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"bad offer", fmt.Errorf("%w: no media sections", ingress.ErrBadOffer), http.StatusBadRequest},
		{"handoff closed", ingress.ErrHandoffClosed, http.StatusServiceUnavailable},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"engine failure", errors.New("create engine: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postOffer(newRouter(t, &stubAcceptor{err: tt.err}), `{"type":"offer","sdp":"v=0"}`)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestOffer_MalformedBody(t *testing.T) {
	acc := &stubAcceptor{}
	w := postOffer(newRouter(t, acc), `{"type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, acc.seen)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newRouter(t, &stubAcceptor{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":2}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relay_sessions 2")
}
