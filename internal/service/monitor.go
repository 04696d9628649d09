package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/internal/domain"
	"classroom/pkg/logger"
)

// Типы сообщений живого монитора
const (
	MonitorRoomStatus      = "room_status"
	MonitorParticipantIn   = "participant_joined"
	MonitorParticipantOut  = "participant_left"
	MonitorAttendanceFinal = "attendance_finalized"
)

const monitorBuffer = 64

type MonitorMessage struct {
	Type     string      `json:"type"`
	RoomID   uuid.UUID   `json:"room_id"`
	Identity string      `json:"identity,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
	Status   string      `json:"status,omitempty"`
	At       time.Time   `json:"at"`
	Data     any         `json:"data,omitempty"`
}

type MonitorSubscription struct {
	id     uint64
	roomID uuid.UUID
	ch     chan []byte
}

// C - сообщения в JSON. Закрывается при Unsubscribe.
func (s *MonitorSubscription) C() <-chan []byte {
	return s.ch
}

// MonitorHub раздает события комнаты подключенным наблюдателям
type MonitorHub interface {
	Subscribe(roomID uuid.UUID) *MonitorSubscription
	Unsubscribe(sub *MonitorSubscription)
	Broadcast(roomID uuid.UUID, msg MonitorMessage)
	Subscribers(roomID uuid.UUID) int
}

type monitorHub struct {
	mu     sync.RWMutex
	nextID uint64
	rooms  map[uuid.UUID]map[uint64]*MonitorSubscription
	log    logger.Logger
}

func NewMonitorHub(log logger.Logger) MonitorHub {
	return &monitorHub{
		rooms: make(map[uuid.UUID]map[uint64]*MonitorSubscription),
		log:   log,
	}
}

func (h *monitorHub) Subscribe(roomID uuid.UUID) *MonitorSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &MonitorSubscription{id: h.nextID, roomID: roomID, ch: make(chan []byte, monitorBuffer)}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[uint64]*MonitorSubscription)
		h.rooms[roomID] = subs
	}
	subs[sub.id] = sub
	return sub
}

func (h *monitorHub) Unsubscribe(sub *MonitorSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[sub.roomID]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.rooms, sub.roomID)
	}
}

// Broadcast не блокируется: медленный наблюдатель теряет сообщения
func (h *monitorHub) Broadcast(roomID uuid.UUID, msg MonitorMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.rooms[roomID]
	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to marshal monitor message", "error", err, "type", msg.Type)
		return
	}

	for _, sub := range subs {
		select {
		case sub.ch <- data:
		default:
			h.log.Debug("Monitor subscriber is slow, message dropped", "room_id", roomID, "type", msg.Type)
		}
	}
}

func (h *monitorHub) Subscribers(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
