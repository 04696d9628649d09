package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classroom/internal/domain"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type roomRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewRoomRepository(db *pgxpool.Pool, log logger.Logger) RoomRepository {
	return &roomRepository{db: db, log: log}
}

const roomColumns = `id, livekit_room_name, title, subject, teacher_id, status,
		       scheduled_start_at, duration_minutes, opens_at, expires_at,
		       actual_start_at, actual_end_at, created_at, updated_at`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	room := &domain.Room{}
	var status string
	err := row.Scan(
		&room.ID, &room.LiveKitRoomName, &room.Title, &room.Subject, &room.TeacherID, &status,
		&room.ScheduledStartAt, &room.DurationMinutes, &room.OpensAt, &room.ExpiresAt,
		&room.ActualStartAt, &room.ActualEndAt, &room.CreatedAt, &room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	room.Status = domain.RoomStatus(status)
	return room, nil
}

func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (id, livekit_room_name, title, subject, teacher_id, status,
		                   scheduled_start_at, duration_minutes, opens_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		room.ID, room.LiveKitRoomName, room.Title, room.Subject, room.TeacherID, string(room.Status),
		room.ScheduledStartAt, room.DurationMinutes, room.OpensAt, room.ExpiresAt,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to create room", "error", err, "room_name", room.LiveKitRoomName)
		return err
	}

	return nil
}

func (r *roomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	room, err := scanRoom(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to get room", "error", err, "room_id", id)
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) GetByLiveKitRoomName(ctx context.Context, name string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE livekit_room_name = $1`

	room, err := scanRoom(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to get room by name", "error", err, "room_name", name)
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Room, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ANY($1) ORDER BY scheduled_start_at`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("Failed to list rooms", "error", err)
		return nil, err
	}
	defer rows.Close()

	var rooms []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			r.log.Error("Failed to scan room", "error", err)
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *roomRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.RoomStatus, to domain.RoomStatus, at time.Time, event *domain.RoomEvent) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return false, err
	}
	defer tx.Rollback(ctx)

	var startAt, endAt *time.Time
	switch to {
	case domain.RoomStatusLive:
		startAt = &at
	case domain.RoomStatusEnded:
		endAt = &at
	}

	query := `
		UPDATE rooms
		SET status = $2,
		    actual_start_at = COALESCE(actual_start_at, $3),
		    actual_end_at = COALESCE(actual_end_at, $4),
		    updated_at = now()
		WHERE id = $1 AND status = ANY($5)
	`

	tag, err := tx.Exec(ctx, query, id, string(to), startAt, endAt, statusStrings(from))
	if err != nil {
		r.log.Error("Failed to transition room status", "error", err, "room_id", id, "to", to)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if event != nil {
		if _, err := insertEvent(ctx, tx, event); err != nil {
			r.log.Error("Failed to write transition event", "error", err, "room_id", id)
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit status transition", "error", err, "room_id", id)
		return false, err
	}

	return true, nil
}
