package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/app/ingress"
)

func (ctl *SignalWSController) handleOffer(ctx context.Context, conn *wsSignalConn, data []byte) {
	type offerPayload struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad offer payload")
		return
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}
	answer, err := ctl.Acceptor.Accept(ctx, offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client", conn.id).Msg("accept offer")
		if errors.Is(err, ingress.ErrBadOffer) {
			ctl.sendError(conn, "bad offer")
		} else {
			ctl.sendError(conn, "unavailable")
		}
		return
	}

	ctl.sendJSON(conn, map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
}
