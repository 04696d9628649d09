package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classroom/internal/domain"
	"classroom/pkg/logger"
)

type eventRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewEventRepository(db *pgxpool.Pool, log logger.Logger) EventRepository {
	return &eventRepository{db: db, log: log}
}

// insertEvent пишет событие через pool или транзакцию. Повтор по ключу
// идемпотентности не ошибка: возвращается false.
func insertEvent(ctx context.Context, q querier, event *domain.RoomEvent) (bool, error) {
	query := `
		INSERT INTO room_events (room_id, kind, participant_identity, role, provider_session_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id, kind, provider_session_id, occurred_at) DO NOTHING
		RETURNING id, created_at
	`

	var role *string
	if event.Role != nil {
		s := string(*event.Role)
		role = &s
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	err := q.QueryRow(ctx, query,
		event.RoomID, string(event.Kind), event.ParticipantIdentity, role,
		event.ProviderSessionID, payload, event.OccurredAt,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *eventRepository) Append(ctx context.Context, event *domain.RoomEvent) (bool, error) {
	inserted, err := insertEvent(ctx, r.db, event)
	if err != nil {
		r.log.Error("Failed to append room event", "error", err, "room_id", event.RoomID, "kind", event.Kind)
		return false, err
	}
	return inserted, nil
}

func (r *eventRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*domain.RoomEvent, error) {
	query := `
		SELECT id, room_id, kind, participant_identity, role, provider_session_id, payload, occurred_at, created_at
		FROM room_events
		WHERE room_id = $1
		ORDER BY occurred_at, id
	`

	rows, err := r.db.Query(ctx, query, roomID)
	if err != nil {
		r.log.Error("Failed to list room events", "error", err, "room_id", roomID)
		return nil, err
	}
	defer rows.Close()

	var events []*domain.RoomEvent
	for rows.Next() {
		ev := &domain.RoomEvent{}
		var kind string
		var role *string
		if err := rows.Scan(
			&ev.ID, &ev.RoomID, &kind, &ev.ParticipantIdentity, &role,
			&ev.ProviderSessionID, &ev.Payload, &ev.OccurredAt, &ev.CreatedAt,
		); err != nil {
			r.log.Error("Failed to scan room event", "error", err)
			return nil, err
		}
		ev.Kind = domain.EventKind(kind)
		if role != nil {
			rl := domain.Role(*role)
			ev.Role = &rl
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
