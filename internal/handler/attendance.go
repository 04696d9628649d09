package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/middleware"
	"classroom/internal/service"
	"classroom/pkg/logger"
)

type AttendanceHandler struct {
	attendance service.AttendanceService
	log        logger.Logger
}

func NewAttendanceHandler(attendance service.AttendanceService, log logger.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: attendance,
		log:        log,
	}
}

func (h *AttendanceHandler) GetRoomAttendance(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	result, err := h.attendance.Summarize(c.Request.Context(), roomID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttendanceHandler) GetParticipantAttendance(c *gin.Context) {
	rollup, err := h.attendance.SummarizeForParticipant(c.Request.Context(), c.Param("identity"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, rollup)
}

func (h *AttendanceHandler) Close(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	result, err := h.attendance.Close(c.Request.Context(), roomID, c.GetString(middleware.ContextIdentity))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttendanceHandler) Rebuild(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	result, err := h.attendance.Rebuild(c.Request.Context(), roomID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.log.Info("Attendance rebuilt from event log", "room_id", roomID, "actor", c.GetString(middleware.ContextIdentity))
	c.JSON(http.StatusOK, result)
}
