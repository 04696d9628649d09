package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"classroom/internal/service"
	"classroom/pkg/logger"
)

const (
	monitorWriteWait  = 5 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = monitorPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// CheckOrigin открыт: монитор защищен токеном оператора
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

type MonitorHandler struct {
	hub       service.MonitorHub
	lifecycle service.LifecycleService
	log       logger.Logger
}

func NewMonitorHandler(hub service.MonitorHub, lifecycle service.LifecycleService, log logger.Logger) *MonitorHandler {
	return &MonitorHandler{
		hub:       hub,
		lifecycle: lifecycle,
		log:       log,
	}
}

// Watch стримит события комнаты оператору. Первое сообщение - текущий статус.
func (h *MonitorHandler) Watch(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.lifecycle.Get(c.Request.Context(), roomID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(roomID)
	defer h.hub.Unsubscribe(sub)
	h.log.Info("Monitor connected", "room_id", roomID, "subscribers", h.hub.Subscribers(roomID))

	snapshot, err := json.Marshal(service.MonitorMessage{
		Type:   service.MonitorRoomStatus,
		RoomID: room.ID,
		Status: string(room.Status),
		At:     time.Now().UTC(),
		Data:   room,
	})
	if err != nil {
		h.log.Error("Failed to marshal room snapshot", "error", err, "room_id", roomID)
		return
	}

	done := make(chan struct{})
	go h.readLoop(conn, done)

	if err := writeFrame(conn, websocket.TextMessage, snapshot); err != nil {
		return
	}
	h.writeLoop(conn, sub, done)
	h.log.Info("Monitor disconnected", "room_id", roomID)
}

// readLoop нужен только для pong и закрытия соединения клиентом
func (h *MonitorHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Monitor read failed", "error", err)
			}
			return
		}
	}
}

// writeLoop - единственный писатель в соединение
func (h *MonitorHandler) writeLoop(conn *websocket.Conn, sub *service.MonitorSubscription, done <-chan struct{}) {
	ticker := time.NewTicker(monitorPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeFrame(conn, websocket.TextMessage, data); err != nil {
				h.log.Debug("Monitor write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(monitorWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

