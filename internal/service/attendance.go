package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"classroom/internal/domain"
	"classroom/internal/messaging"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type AttendanceService interface {
	Summarize(ctx context.Context, roomID uuid.UUID) (*domain.RoomAttendance, error)
	SummarizeForParticipant(ctx context.Context, identity string) (*domain.ParticipantRollup, error)
	// Finalize закрывает окна комнаты моментом at и публикует итог, если что-то изменилось
	Finalize(ctx context.Context, room *domain.Room, at time.Time, force bool) (*domain.RoomAttendance, error)
	// Close - ручное закрытие посещаемости оператором
	Close(ctx context.Context, roomID uuid.UUID, actor string) (*domain.RoomAttendance, error)
	Rebuild(ctx context.Context, roomID uuid.UUID) (*domain.RoomAttendance, error)
}

type attendanceService struct {
	roomRepo       repository.RoomRepository
	eventRepo      repository.EventRepository
	sessionRepo    repository.SessionRepository
	assignmentRepo repository.AssignmentRepository
	tracker        SessionTracker
	publisher      messaging.Publisher
	hub            MonitorHub
	policy         domain.Policy
	log            logger.Logger
	now            func() time.Time
}

func NewAttendanceService(repos *repository.Repositories, tracker SessionTracker, publisher messaging.Publisher, hub MonitorHub, policy domain.Policy, log logger.Logger) AttendanceService {
	return &attendanceService{
		roomRepo:       repos.Room,
		eventRepo:      repos.Event,
		sessionRepo:    repos.Session,
		assignmentRepo: repos.Assignment,
		tracker:        tracker,
		publisher:      publisher,
		hub:            hub,
		policy:         policy,
		log:            log,
		now:            time.Now,
	}
}

func (s *attendanceService) summarize(ctx context.Context, room *domain.Room) (*domain.RoomAttendance, error) {
	assignments, err := s.assignmentRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	windows, err := s.sessionRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	result, unassigned := domain.BuildRoomAttendance(room, assignments, windows, s.policy, s.now().UTC())
	for _, identity := range unassigned {
		s.log.Warn("Attended without assignment", "error", apperrors.ErrMissingAssignment, "room_id", room.ID, "identity", identity)
	}
	return result, nil
}

func (s *attendanceService) Summarize(ctx context.Context, roomID uuid.UUID) (*domain.RoomAttendance, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, room)
}

func (s *attendanceService) SummarizeForParticipant(ctx context.Context, identity string) (*domain.ParticipantRollup, error) {
	assignments, err := s.assignmentRepo.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	assigned := make(map[uuid.UUID]domain.Role, len(assignments))
	ids := make([]uuid.UUID, 0, len(assignments))
	for _, a := range assignments {
		assigned[a.RoomID] = a.Role
		ids = append(ids, a.RoomID)
	}

	var rooms []*domain.Room
	var windows []*domain.SessionWindow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rooms, err = s.roomRepo.ListByIDs(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		windows, err = s.sessionRepo.ListByIdentity(gctx, identity)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	byRoom := make(map[uuid.UUID]*domain.SessionWindow, len(windows))
	for _, w := range windows {
		byRoom[w.RoomID] = w
	}

	return domain.BuildParticipantRollup(identity, rooms, assigned, byRoom, s.policy, s.now().UTC()), nil
}

func (s *attendanceService) Finalize(ctx context.Context, room *domain.Room, at time.Time, force bool) (*domain.RoomAttendance, error) {
	finalized, err := s.tracker.CloseRoom(ctx, room, at)
	if err != nil {
		return nil, err
	}

	result, err := s.summarize(ctx, room)
	if err != nil {
		return nil, err
	}

	if finalized > 0 || force {
		if err := s.publisher.PublishAttendance(ctx, result); err != nil {
			// подписчики получат итог при следующем закрытии; вебхук не проваливаем
			s.log.Error("Failed to publish attendance", "error", err, "room_id", room.ID)
		}
		s.hub.Broadcast(room.ID, MonitorMessage{Type: MonitorAttendanceFinal, RoomID: room.ID, At: at, Data: result.Summary})
	}
	return result, nil
}

func (s *attendanceService) Close(ctx context.Context, roomID uuid.UUID, actor string) (*domain.RoomAttendance, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	if room.ActualEndAt != nil {
		at = *room.ActualEndAt
	}

	ev := &domain.RoomEvent{
		RoomID:            roomID,
		Kind:              domain.EventAttendanceClosed,
		ProviderSessionID: "operator:" + actor,
		OccurredAt:        at,
		Payload:           map[string]any{"actor": actor},
	}
	if _, err := s.eventRepo.Append(ctx, ev); err != nil {
		return nil, err
	}

	s.log.Info("Attendance closed by operator", "room_id", roomID, "actor", actor)
	return s.Finalize(ctx, room, at, false)
}

func (s *attendanceService) Rebuild(ctx context.Context, roomID uuid.UUID) (*domain.RoomAttendance, error) {
	if _, err := s.tracker.Rebuild(ctx, roomID); err != nil {
		return nil, err
	}
	return s.Summarize(ctx, roomID)
}
