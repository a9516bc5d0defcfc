package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/app/ingress"
	"github.com/dkeye/Relay/internal/core"
)

type handlers struct {
	acceptor core.OfferAcceptor
	stats    core.PoolStats
}

// offer takes a JSON session description and answers it once the new
// session is queued for the pool.
func (h *handlers) offer(c *gin.Context) {
	var offer webrtc.SessionDescription
	if err := c.ShouldBindJSON(&offer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer"})
		return
	}

	answer, err := h.acceptor.Accept(c.Request.Context(), offer)
	switch {
	case err == nil:
	case errors.Is(err, ingress.ErrBadOffer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ingress.ErrHandoffClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool unavailable"})
		return
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("accept offer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "offer not accepted"})
		return
	}

	sess := sessions.Default(c)
	sess.Set("offers", offerCount(sess)+1)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}

	log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("send answer")
	c.JSON(http.StatusOK, answer)
}

func offerCount(s sessions.Session) int {
	n, _ := s.Get("offers").(int)
	return n
}

func (h *handlers) health(c *gin.Context) {
	size := 0
	if h.stats != nil {
		size = h.stats.Size()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": size})
}
