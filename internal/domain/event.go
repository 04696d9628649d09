package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

// Имена совпадают с именами событий вебхуков LiveKit
const (
	EventRoomStarted       EventKind = "room_started"
	EventRoomFinished      EventKind = "room_finished"
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
)

// Внутренние события журнала
const (
	EventRoomScheduled    EventKind = "room_scheduled"
	EventStatusLive       EventKind = "status_live"
	EventStatusEnded      EventKind = "status_ended"
	EventAttendanceClosed EventKind = "attendance_closed"
)

// RoomEvent - запись журнала комнаты. Только вставка, без обновлений.
// (RoomID, Kind, ProviderSessionID, OccurredAt) - ключ идемпотентности.
type RoomEvent struct {
	ID                  int64          `json:"id"`
	RoomID              uuid.UUID      `json:"room_id"`
	Kind                EventKind      `json:"kind"`
	ParticipantIdentity *string        `json:"participant_identity,omitempty"`
	Role                *Role          `json:"role,omitempty"`
	ProviderSessionID   string         `json:"provider_session_id"`
	Payload             map[string]any `json:"payload"`
	OccurredAt          time.Time      `json:"occurred_at"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Event - декодированный вебхук провайдера
type Event interface {
	Kind() EventKind
	ID() string
	Room() string
	webhookEvent()
}

type RoomStarted struct {
	EventID           string
	RoomName          string
	ProviderSessionID string
	At                time.Time
}

type RoomFinished struct {
	EventID           string
	RoomName          string
	ProviderSessionID string
	At                time.Time
}

type ParticipantJoined struct {
	EventID                string
	RoomName               string
	Identity               string
	Role                   Role
	DisplayName            string
	ProviderParticipantSID string
	JoinedAt               time.Time
}

type ParticipantLeft struct {
	EventID                string
	RoomName               string
	Identity               string
	Role                   Role
	ProviderParticipantSID string
	LeftAt                 time.Time
}

// UnknownEvent - событие, которое сервис не обрабатывает (track_published, egress_* ...)
type UnknownEvent struct {
	EventID  string
	Name     string
	RoomName string
}

func (RoomStarted) Kind() EventKind       { return EventRoomStarted }
func (RoomFinished) Kind() EventKind      { return EventRoomFinished }
func (ParticipantJoined) Kind() EventKind { return EventParticipantJoined }
func (ParticipantLeft) Kind() EventKind   { return EventParticipantLeft }
func (e UnknownEvent) Kind() EventKind    { return EventKind(e.Name) }

func (e RoomStarted) ID() string       { return e.EventID }
func (e RoomFinished) ID() string      { return e.EventID }
func (e ParticipantJoined) ID() string { return e.EventID }
func (e ParticipantLeft) ID() string   { return e.EventID }
func (e UnknownEvent) ID() string      { return e.EventID }

func (e RoomStarted) Room() string       { return e.RoomName }
func (e RoomFinished) Room() string      { return e.RoomName }
func (e ParticipantJoined) Room() string { return e.RoomName }
func (e ParticipantLeft) Room() string   { return e.RoomName }
func (e UnknownEvent) Room() string      { return e.RoomName }

func (RoomStarted) webhookEvent()       {}
func (RoomFinished) webhookEvent()      {}
func (ParticipantJoined) webhookEvent() {}
func (ParticipantLeft) webhookEvent()   {}
func (UnknownEvent) webhookEvent()      {}

// ToRoomEvent переводит вебхук в запись журнала. Для UnknownEvent возвращает false.
func ToRoomEvent(roomID uuid.UUID, e Event) (*RoomEvent, bool) {
	ev := &RoomEvent{RoomID: roomID, Kind: e.Kind(), Payload: map[string]any{"event_id": e.ID()}}
	switch e := e.(type) {
	case RoomStarted:
		ev.ProviderSessionID = e.ProviderSessionID
		ev.OccurredAt = e.At
	case RoomFinished:
		ev.ProviderSessionID = e.ProviderSessionID
		ev.OccurredAt = e.At
	case ParticipantJoined:
		ev.ParticipantIdentity = &e.Identity
		ev.Role = &e.Role
		ev.ProviderSessionID = e.ProviderParticipantSID
		ev.OccurredAt = e.JoinedAt
		ev.Payload["display_name"] = e.DisplayName
	case ParticipantLeft:
		ev.ParticipantIdentity = &e.Identity
		ev.Role = &e.Role
		ev.ProviderSessionID = e.ProviderParticipantSID
		ev.OccurredAt = e.LeftAt
	default:
		return nil, false
	}
	return ev, true
}
