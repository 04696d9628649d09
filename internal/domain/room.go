package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "classroom/pkg/errors"
)

type RoomStatus string

const (
	RoomStatusScheduled RoomStatus = "scheduled"
	RoomStatusLive      RoomStatus = "live"
	RoomStatusEnded     RoomStatus = "ended"
)

type Room struct {
	ID               uuid.UUID  `json:"id"`
	LiveKitRoomName  string     `json:"livekit_room_name"`
	Title            string     `json:"title"`
	Subject          string     `json:"subject,omitempty"`
	TeacherID        string     `json:"teacher_id"`
	Status           RoomStatus `json:"status"`
	ScheduledStartAt time.Time  `json:"scheduled_start_at"`
	DurationMinutes  int        `json:"duration_minutes"`
	OpensAt          time.Time  `json:"opens_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ActualStartAt    *time.Time `json:"actual_start_at,omitempty"`
	ActualEndAt      *time.Time `json:"actual_end_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (r *Room) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

func (r *Room) ScheduledEndAt() time.Time {
	return r.ScheduledStartAt.Add(r.Duration())
}

// AcceptsJoins - можно ли выдать участнику рабочий токен в момент now
func (r *Room) AcceptsJoins(now time.Time) bool {
	if r.Status == RoomStatusEnded {
		return false
	}
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// Trigger - причина смены статуса комнаты
type Trigger string

const (
	TriggerGoLive       Trigger = "go_live"
	TriggerRoomFinished Trigger = "room_finished"
)

// NextStatus решает, куда переходит комната из current по trigger.
// changed=false без ошибки означает идемпотентный no-op (повторный room_finished).
func NextStatus(current RoomStatus, trigger Trigger) (next RoomStatus, changed bool, err error) {
	switch trigger {
	case TriggerGoLive:
		if current != RoomStatusScheduled {
			return current, false, apperrors.ErrInvalidTransition
		}
		return RoomStatusLive, true, nil
	case TriggerRoomFinished:
		switch current {
		case RoomStatusScheduled, RoomStatusLive:
			return RoomStatusEnded, true, nil
		case RoomStatusEnded:
			return current, false, nil
		}
	}
	return current, false, apperrors.ErrInvalidTransition
}

// AllowedFrom - статусы, из которых trigger может перевести комнату.
// Хранилище использует их в условном UPDATE ... WHERE status = ANY(...).
func AllowedFrom(trigger Trigger) []RoomStatus {
	var from []RoomStatus
	for _, s := range []RoomStatus{RoomStatusScheduled, RoomStatusLive, RoomStatusEnded} {
		if _, changed, err := NextStatus(s, trigger); err == nil && changed {
			from = append(from, s)
		}
	}
	return from
}

// Assignment - участник, назначенный на занятие внешней системой расписания
type Assignment struct {
	RoomID   uuid.UUID `json:"room_id"`
	Identity string    `json:"identity"`
	Role     Role      `json:"role"`
}
