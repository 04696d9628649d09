package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"classroom/internal/domain"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

const maxCASAttempts = 5

// SessionTracker ведет окна присутствия участников
type SessionTracker interface {
	OnJoin(ctx context.Context, room *domain.Room, ev domain.ParticipantJoined) (domain.ApplyOutcome, error)
	OnLeave(ctx context.Context, room *domain.Room, ev domain.ParticipantLeft) (domain.ApplyOutcome, error)
	// CloseRoom закрывает открытые интервалы и фиксирует статусы. Возвращает число финализированных окон.
	CloseRoom(ctx context.Context, room *domain.Room, at time.Time) (int, error)
	Rebuild(ctx context.Context, roomID uuid.UUID) ([]*domain.SessionWindow, error)
}

type sessionTracker struct {
	roomRepo    repository.RoomRepository
	eventRepo   repository.EventRepository
	sessionRepo repository.SessionRepository
	policy      domain.Policy
	log         logger.Logger
}

func NewSessionTracker(roomRepo repository.RoomRepository, eventRepo repository.EventRepository, sessionRepo repository.SessionRepository, policy domain.Policy, log logger.Logger) SessionTracker {
	return &sessionTracker{
		roomRepo:    roomRepo,
		eventRepo:   eventRepo,
		sessionRepo: sessionRepo,
		policy:      policy,
		log:         log,
	}
}

// mutate - CAS-цикл: читаем окно, применяем fn к копии, пишем с проверкой version.
// create=false: отсутствующее окно не создается (leave без join).
func (t *sessionTracker) mutate(ctx context.Context, roomID uuid.UUID, identity string, role domain.Role, create bool, fn func(w *domain.SessionWindow) domain.ApplyOutcome) (domain.ApplyOutcome, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		w, err := t.sessionRepo.Get(ctx, roomID, identity)
		if errors.Is(err, apperrors.ErrNotFound) {
			if !create {
				return domain.OutcomeOrphan, nil
			}
			w = domain.NewSessionWindow(roomID, identity, role)
			outcome := fn(w)
			if outcome != domain.OutcomeApplied {
				return outcome, nil
			}
			inserted, err := t.sessionRepo.Insert(ctx, w)
			if err != nil {
				return outcome, err
			}
			if inserted {
				return outcome, nil
			}
			continue
		}
		if err != nil {
			return domain.OutcomeApplied, err
		}

		expected := w.Version
		outcome := fn(w)
		if outcome != domain.OutcomeApplied {
			return outcome, nil
		}
		ok, err := t.sessionRepo.CompareAndSwap(ctx, w, expected)
		if err != nil {
			return outcome, err
		}
		if ok {
			return outcome, nil
		}
		t.log.Debug("Session window version conflict, retrying", "room_id", roomID, "identity", identity, "attempt", attempt+1)
	}
	return domain.OutcomeApplied, fmt.Errorf("session window %s/%s: %w", roomID, identity, apperrors.ErrConflict)
}

func (t *sessionTracker) OnJoin(ctx context.Context, room *domain.Room, ev domain.ParticipantJoined) (domain.ApplyOutcome, error) {
	if room.Status == domain.RoomStatusEnded && room.ActualEndAt != nil && ev.JoinedAt.After(*room.ActualEndAt) {
		t.log.Warn("Join after room end ignored", "room_id", room.ID, "identity", ev.Identity)
		return domain.OutcomeDuplicate, nil
	}

	outcome, err := t.mutate(ctx, room.ID, ev.Identity, ev.Role, true, func(w *domain.SessionWindow) domain.ApplyOutcome {
		outcome := w.ApplyJoin(ev.ProviderParticipantSID, ev.JoinedAt, room.ScheduledStartAt, t.policy.LateGrace)
		if outcome == domain.OutcomeApplied {
			if ev.DisplayName != "" {
				w.DisplayName = ev.DisplayName
			}
			if w.Role == "" {
				w.Role = ev.Role
			}
			w.Refinalize(room, t.policy)
		}
		return outcome
	})
	if err != nil {
		t.log.Error("Failed to apply join", "error", err, "room_id", room.ID, "identity", ev.Identity)
		return outcome, err
	}

	t.log.Debug("Join processed", "room_id", room.ID, "identity", ev.Identity, "sid", ev.ProviderParticipantSID, "outcome", outcome.String())
	return outcome, nil
}

func (t *sessionTracker) OnLeave(ctx context.Context, room *domain.Room, ev domain.ParticipantLeft) (domain.ApplyOutcome, error) {
	outcome, err := t.mutate(ctx, room.ID, ev.Identity, ev.Role, false, func(w *domain.SessionWindow) domain.ApplyOutcome {
		outcome := w.ApplyLeave(ev.ProviderParticipantSID, ev.LeftAt, room.ScheduledStartAt, t.policy.LateGrace)
		if outcome == domain.OutcomeApplied {
			w.Refinalize(room, t.policy)
		}
		return outcome
	})
	if err != nil {
		t.log.Error("Failed to apply leave", "error", err, "room_id", room.ID, "identity", ev.Identity)
		return outcome, err
	}

	if outcome == domain.OutcomeOrphan {
		t.log.Warn("Orphan leave ignored", "error", apperrors.ErrOrphanLeave, "room_id", room.ID, "identity", ev.Identity, "sid", ev.ProviderParticipantSID)
	}
	return outcome, nil
}

func (t *sessionTracker) CloseRoom(ctx context.Context, room *domain.Room, at time.Time) (int, error) {
	windows, err := t.sessionRepo.ListByRoom(ctx, room.ID)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, w := range windows {
		if w.FinalizedAt != nil {
			continue
		}
		outcome, err := t.mutate(ctx, room.ID, w.Identity, w.Role, false, func(w *domain.SessionWindow) domain.ApplyOutcome {
			if w.FinalizedAt != nil {
				return domain.OutcomeDuplicate
			}
			w.Finalize(room, t.policy, at)
			return domain.OutcomeApplied
		})
		if err != nil {
			t.log.Error("Failed to finalize session window", "error", err, "room_id", room.ID, "identity", w.Identity)
			return finalized, err
		}
		if outcome == domain.OutcomeApplied {
			finalized++
		}
	}

	t.log.Info("Attendance closed", "room_id", room.ID, "finalized", finalized)
	return finalized, nil
}

// Rebuild пересобирает окна комнаты из журнала событий
func (t *sessionTracker) Rebuild(ctx context.Context, roomID uuid.UUID) ([]*domain.SessionWindow, error) {
	room, err := t.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	events, err := t.eventRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	replayed := domain.ReplayWindows(room, t.policy, events)
	windows := make([]*domain.SessionWindow, 0, len(replayed))
	for _, w := range replayed {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Identity < windows[j].Identity })

	if err := t.sessionRepo.ReplaceRoom(ctx, roomID, windows); err != nil {
		return nil, err
	}

	t.log.Info("Session windows rebuilt", "room_id", roomID, "events", len(events), "windows", len(windows))
	return windows, nil
}
