package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"estancias/internal/app/gatewayevents"
	"estancias/internal/app/policies"
)

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Gateway-Signature"

const maxWebhookBody = 1 << 20

// WebhookHandler verifies and applies gateway callbacks. A non-2xx response
// makes the gateway retry, so only genuine processing failures return 500;
// events we cannot correlate are acknowledged and dropped inside the
// processor.
type WebhookHandler struct {
	Verifier  policies.Gateway
	Processor *gatewayevents.Processor
	Logger    *slog.Logger
}

func (h WebhookHandler) Gateway(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	event, err := h.Verifier.VerifyWebhook(payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, policies.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Processor.Process(c.Request.Context(), event); err != nil {
		if h.Logger != nil {
			h.Logger.Error("webhook processing failed",
				slog.String("event_id", event.ID),
				slog.String("kind", string(event.Kind)),
				slog.Any("error", err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

var _ WebhookHTTP = WebhookHandler{}
