package service

import (
	"context"
	"errors"
	"time"

	"classroom/internal/domain"
	"classroom/internal/messaging"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

// Результаты обработки вебхука (попадают в ответ и в логи)
const (
	ResultApplied     = "applied"
	ResultDuplicate   = "duplicate"
	ResultOrphan      = "orphan"
	ResultRecorded    = "recorded"
	ResultIgnored     = "ignored"
	ResultUntracked   = "untracked"
	ResultUnknownRoom = "unknown_room"
)

// EventProcessor связывает проверенные вебхуки с жизненным циклом и трекером
type EventProcessor interface {
	Handle(ctx context.Context, ev domain.Event) (string, error)
}

type eventProcessor struct {
	roomRepo   repository.RoomRepository
	eventRepo  repository.EventRepository
	dedup      repository.WebhookDedupRepository
	dedupTTL   time.Duration
	lifecycle  LifecycleService
	tracker    SessionTracker
	attendance AttendanceService
	publisher  messaging.Publisher
	hub        MonitorHub
	log        logger.Logger
}

func NewEventProcessor(repos *repository.Repositories, dedupTTL time.Duration, lifecycle LifecycleService, tracker SessionTracker, attendance AttendanceService, publisher messaging.Publisher, hub MonitorHub, log logger.Logger) EventProcessor {
	return &eventProcessor{
		roomRepo:   repos.Room,
		eventRepo:  repos.Event,
		dedup:      repos.WebhookDedup,
		dedupTTL:   dedupTTL,
		lifecycle:  lifecycle,
		tracker:    tracker,
		attendance: attendance,
		publisher:  publisher,
		hub:        hub,
		log:        log,
	}
}

func (p *eventProcessor) Handle(ctx context.Context, ev domain.Event) (string, error) {
	if u, ok := ev.(domain.UnknownEvent); ok {
		p.log.Debug("Webhook event ignored", "error", apperrors.ErrUnknownEventKind, "event", u.Name, "room_name", u.RoomName)
		return ResultIgnored, nil
	}

	// быстрый путь для повторной доставки; окна идемпотентны и без него
	claimed := false
	if p.dedup != nil && ev.ID() != "" {
		ok, err := p.dedup.Claim(ctx, ev.ID(), p.dedupTTL)
		switch {
		case err != nil:
			p.log.Warn("Webhook dedup unavailable, processing anyway", "error", err, "event_id", ev.ID())
		case !ok:
			p.log.Debug("Webhook event already processed", "event_id", ev.ID())
			return ResultDuplicate, nil
		default:
			claimed = true
		}
	}

	result, err := p.process(ctx, ev)
	if err != nil && claimed {
		// освобождаем, чтобы повторная доставка LiveKit применилась
		if relErr := p.dedup.Release(ctx, ev.ID()); relErr != nil {
			p.log.Error("Failed to release webhook claim", "error", relErr, "event_id", ev.ID())
		}
	}
	return result, err
}

func (p *eventProcessor) process(ctx context.Context, ev domain.Event) (string, error) {
	room, err := p.roomRepo.GetByLiveKitRoomName(ctx, ev.Room())
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			p.log.Warn("Webhook for unknown room", "room_name", ev.Room(), "event", ev.Kind())
			return ResultUnknownRoom, nil
		}
		return "", err
	}

	record, ok := domain.ToRoomEvent(room.ID, ev)
	if !ok {
		return ResultIgnored, nil
	}
	if _, err := p.eventRepo.Append(ctx, record); err != nil {
		return "", err
	}

	switch e := ev.(type) {
	case domain.RoomStarted:
		// статус двигает только оператор (go_live)
		p.hub.Broadcast(room.ID, MonitorMessage{Type: MonitorRoomStatus, RoomID: room.ID, Status: "provider_started", At: e.At})
		return ResultRecorded, nil

	case domain.RoomFinished:
		return p.finish(ctx, room, e)

	case domain.ParticipantJoined:
		if !domain.Tracked(e.Role) {
			return ResultUntracked, nil
		}
		outcome, err := p.tracker.OnJoin(ctx, room, e)
		if err != nil {
			return "", err
		}
		if outcome == domain.OutcomeApplied {
			p.hub.Broadcast(room.ID, MonitorMessage{Type: MonitorParticipantIn, RoomID: room.ID, Identity: e.Identity, Role: e.Role, At: e.JoinedAt})
		}
		return outcome.String(), nil

	case domain.ParticipantLeft:
		if !domain.Tracked(e.Role) {
			return ResultUntracked, nil
		}
		outcome, err := p.tracker.OnLeave(ctx, room, e)
		if err != nil {
			return "", err
		}
		if outcome == domain.OutcomeApplied {
			p.hub.Broadcast(room.ID, MonitorMessage{Type: MonitorParticipantOut, RoomID: room.ID, Identity: e.Identity, Role: e.Role, At: e.LeftAt})
		}
		return outcome.String(), nil
	}

	return ResultIgnored, nil
}

func (p *eventProcessor) finish(ctx context.Context, room *domain.Room, e domain.RoomFinished) (string, error) {
	changed, err := p.lifecycle.Finish(ctx, room, e.ProviderSessionID, e.At)
	if err != nil {
		return "", err
	}
	if !changed {
		// комнату мог завершить параллельный вызов: берем актуальное время конца
		if room, err = p.roomRepo.GetByID(ctx, room.ID); err != nil {
			return "", err
		}
	} else {
		p.hub.Broadcast(room.ID, MonitorMessage{Type: MonitorRoomStatus, RoomID: room.ID, Status: string(domain.RoomStatusEnded), At: e.At})
		if err := p.publisher.PublishRoomEvent(ctx, room.ID, domain.EventStatusEnded, map[string]any{"at": e.At}); err != nil {
			p.log.Error("Failed to publish room event", "error", err, "room_id", room.ID)
		}
	}

	endAt := e.At
	if room.ActualEndAt != nil {
		endAt = *room.ActualEndAt
	}

	// повторный room_finished досчитывает окна, если прошлый вызов упал после смены статуса
	if _, err := p.attendance.Finalize(ctx, room, endAt, changed); err != nil {
		return "", err
	}

	if !changed {
		return ResultDuplicate, nil
	}
	return ResultApplied, nil
}
