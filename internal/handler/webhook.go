package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/service"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	gateway   service.WebhookGateway
	processor service.EventProcessor
	log       logger.Logger
}

func NewWebhookHandler(gateway service.WebhookGateway, processor service.EventProcessor, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:   gateway,
		processor: processor,
		log:       log,
	}
}

// LiveKit подписывает сырое тело, поэтому читаем его целиком до разбора
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		abortWithError(c, apperrors.NewAPIError("failed to read body", http.StatusBadRequest))
		return
	}

	ev, err := h.gateway.VerifyAndDecode(body, c.GetHeader("Authorization"))
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSignature) {
			h.log.Warn("Rejected webhook", "error", err, "client_ip", c.ClientIP())
		}
		abortWithError(c, err)
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), ev)
	if err != nil {
		// 500: LiveKit доставит событие повторно
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
