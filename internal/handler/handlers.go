package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classroom/internal/config"
	"classroom/internal/service"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type Handlers struct {
	Health     *HealthHandler
	Webhook    *WebhookHandler
	Room       *RoomHandler
	Credential *CredentialHandler
	Attendance *AttendanceHandler
	Monitor    *MonitorHandler
}

func NewHandlers(services *service.Services, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(cfg),
		Webhook:    NewWebhookHandler(services.Webhook, services.Processor, log),
		Room:       NewRoomHandler(services.Lifecycle, log),
		Credential: NewCredentialHandler(services.Credential, log),
		Attendance: NewAttendanceHandler(services.Attendance, log),
		Monitor:    NewMonitorHandler(services.Monitor, services.Lifecycle, log),
	}
}

func roomIDParam(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room ID"})
		return uuid.Nil, false
	}
	return roomID, true
}

// abortWithError отдает ошибку в middleware.ErrorHandler, который выберет статус
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func bindError(c *gin.Context, err error) {
	abortWithError(c, apperrors.NewAPIError(err.Error(), http.StatusBadRequest))
}
