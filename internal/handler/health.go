package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/config"
	"classroom/internal/service"
)

type HealthHandler struct {
	liveKitURL string
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		liveKitURL: service.PublicLiveKitURL(cfg.LiveKit),
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "classroom",
	})
}

// ServerInfo возвращает информацию о сервере для клиентов
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"livekit_url": h.liveKitURL,
		"api_base":    "/api/v1",
	})
}
