package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classroom/internal/config"
	"classroom/internal/domain"
	"classroom/internal/messaging"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type ScheduleInput struct {
	LiveKitRoomName  string
	Title            string
	Subject          string
	TeacherID        string
	ScheduledStartAt time.Time
	DurationMinutes  int
	Assignments      []domain.Assignment
}

// LifecycleService владеет статусом комнаты: scheduled -> live -> ended
type LifecycleService interface {
	Schedule(ctx context.Context, in ScheduleInput) (*domain.Room, error)
	Get(ctx context.Context, roomID uuid.UUID) (*domain.Room, error)
	GoLive(ctx context.Context, roomID uuid.UUID, actor string) (*domain.Room, error)
	// Finish переводит комнату в ended. false - комната уже была завершена.
	Finish(ctx context.Context, room *domain.Room, providerSessionID string, at time.Time) (bool, error)
}

type lifecycleService struct {
	roomRepo       repository.RoomRepository
	eventRepo      repository.EventRepository
	assignmentRepo repository.AssignmentRepository
	publisher      messaging.Publisher
	hub            MonitorHub
	cfg            config.AttendanceConfig
	log            logger.Logger
	now            func() time.Time
}

func NewLifecycleService(repos *repository.Repositories, publisher messaging.Publisher, hub MonitorHub, cfg config.AttendanceConfig, log logger.Logger) LifecycleService {
	return &lifecycleService{
		roomRepo:       repos.Room,
		eventRepo:      repos.Event,
		assignmentRepo: repos.Assignment,
		publisher:      publisher,
		hub:            hub,
		cfg:            cfg,
		log:            log,
		now:            time.Now,
	}
}

func (s *lifecycleService) Schedule(ctx context.Context, in ScheduleInput) (*domain.Room, error) {
	if in.TeacherID == "" || in.ScheduledStartAt.IsZero() || in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("teacher, start time and positive duration are required: %w", apperrors.ErrBadRequest)
	}

	for i, a := range in.Assignments {
		if a.Identity == "" {
			return nil, fmt.Errorf("assignment %d has no identity: %w", i, apperrors.ErrBadRequest)
		}
		if _, err := domain.ResolveGrant(a.Role); err != nil {
			return nil, fmt.Errorf("assignment %q: %w", a.Identity, err)
		}
	}

	room := &domain.Room{
		ID:               uuid.New(),
		LiveKitRoomName:  in.LiveKitRoomName,
		Title:            in.Title,
		Subject:          in.Subject,
		TeacherID:        in.TeacherID,
		Status:           domain.RoomStatusScheduled,
		ScheduledStartAt: in.ScheduledStartAt.UTC(),
		DurationMinutes:  in.DurationMinutes,
	}
	if room.LiveKitRoomName == "" {
		room.LiveKitRoomName = "class-" + room.ID.String()
	}
	room.OpensAt = room.ScheduledStartAt.Add(-s.cfg.JoinWindowBefore)
	room.ExpiresAt = room.ScheduledEndAt().Add(s.cfg.ExpireAfterEnd)

	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, err
	}

	assignments := make([]domain.Assignment, len(in.Assignments))
	for i, a := range in.Assignments {
		a.RoomID = room.ID
		assignments[i] = a
	}
	if err := s.assignmentRepo.Assign(ctx, assignments); err != nil {
		return nil, err
	}

	ev := &domain.RoomEvent{
		RoomID:     room.ID,
		Kind:       domain.EventRoomScheduled,
		OccurredAt: s.now().UTC(),
		Payload: map[string]any{
			"title":       room.Title,
			"teacher_id":  room.TeacherID,
			"assignments": len(assignments),
		},
	}
	if _, err := s.eventRepo.Append(ctx, ev); err != nil {
		return nil, err
	}

	s.log.Info("Room scheduled", "room_id", room.ID, "room_name", room.LiveKitRoomName, "start", room.ScheduledStartAt)
	return room, nil
}

func (s *lifecycleService) Get(ctx context.Context, roomID uuid.UUID) (*domain.Room, error) {
	return s.roomRepo.GetByID(ctx, roomID)
}

func (s *lifecycleService) GoLive(ctx context.Context, roomID uuid.UUID, actor string) (*domain.Room, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	next, _, err := domain.NextStatus(room.Status, domain.TriggerGoLive)
	if err != nil {
		return nil, fmt.Errorf("room %s is %s: %w", roomID, room.Status, err)
	}

	at := s.now().UTC()
	ev := &domain.RoomEvent{
		RoomID:            roomID,
		Kind:              domain.EventStatusLive,
		ProviderSessionID: "operator:" + actor,
		OccurredAt:        at,
		Payload:           map[string]any{"actor": actor},
	}

	ok, err := s.roomRepo.TransitionStatus(ctx, roomID, domain.AllowedFrom(domain.TriggerGoLive), next, at, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		// статус сменился параллельно
		return nil, fmt.Errorf("room %s: %w", roomID, apperrors.ErrInvalidTransition)
	}

	s.log.Info("Room is live", "room_id", roomID, "actor", actor)
	s.hub.Broadcast(roomID, MonitorMessage{Type: MonitorRoomStatus, RoomID: roomID, Status: string(next), At: at})
	if err := s.publisher.PublishRoomEvent(ctx, roomID, domain.EventStatusLive, map[string]any{"actor": actor, "at": at}); err != nil {
		s.log.Error("Failed to publish room event", "error", err, "room_id", roomID)
	}
	return s.roomRepo.GetByID(ctx, roomID)
}

func (s *lifecycleService) Finish(ctx context.Context, room *domain.Room, providerSessionID string, at time.Time) (bool, error) {
	next, changed, err := domain.NextStatus(room.Status, domain.TriggerRoomFinished)
	if err != nil {
		return false, err
	}
	if !changed {
		s.log.Debug("Duplicate room_finished ignored", "room_id", room.ID)
		return false, nil
	}

	ev := &domain.RoomEvent{
		RoomID:            room.ID,
		Kind:              domain.EventStatusEnded,
		ProviderSessionID: providerSessionID,
		OccurredAt:        at,
		Payload:           map[string]any{"from": string(room.Status)},
	}

	ok, err := s.roomRepo.TransitionStatus(ctx, room.ID, domain.AllowedFrom(domain.TriggerRoomFinished), next, at, ev)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug("Room already ended by a concurrent delivery", "room_id", room.ID)
		return false, nil
	}

	room.Status = next
	if room.ActualEndAt == nil {
		end := at
		room.ActualEndAt = &end
	}
	s.log.Info("Room ended", "room_id", room.ID, "at", at)
	return true, nil
}
