package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classroom/internal/domain"
	"classroom/internal/middleware"
	"classroom/internal/service"
	"classroom/pkg/logger"
)

type RoomHandler struct {
	lifecycle service.LifecycleService
	log       logger.Logger
}

func NewRoomHandler(lifecycle service.LifecycleService, log logger.Logger) *RoomHandler {
	return &RoomHandler{
		lifecycle: lifecycle,
		log:       log,
	}
}

type AssignmentRequest struct {
	Identity string      `json:"identity" binding:"required"`
	Role     domain.Role `json:"role" binding:"required"`
}

type ScheduleRoomRequest struct {
	LiveKitRoomName  string              `json:"livekit_room_name"`
	Title            string              `json:"title"`
	Subject          string              `json:"subject"`
	TeacherID        string              `json:"teacher_id" binding:"required"`
	ScheduledStartAt time.Time           `json:"scheduled_start_at" binding:"required"`
	DurationMinutes  int                 `json:"duration_minutes" binding:"required,min=1"`
	Assignments      []AssignmentRequest `json:"assignments" binding:"dive"`
}

func (h *RoomHandler) Schedule(c *gin.Context) {
	var req ScheduleRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	assignments := make([]domain.Assignment, len(req.Assignments))
	for i, a := range req.Assignments {
		assignments[i] = domain.Assignment{Identity: a.Identity, Role: a.Role}
	}

	room, err := h.lifecycle.Schedule(c.Request.Context(), service.ScheduleInput{
		LiveKitRoomName:  req.LiveKitRoomName,
		Title:            req.Title,
		Subject:          req.Subject,
		TeacherID:        req.TeacherID,
		ScheduledStartAt: req.ScheduledStartAt,
		DurationMinutes:  req.DurationMinutes,
		Assignments:      assignments,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) GetByID(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.lifecycle.Get(c.Request.Context(), roomID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) GoLive(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.lifecycle.GoLive(c.Request.Context(), roomID, c.GetString(middleware.ContextIdentity))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}
