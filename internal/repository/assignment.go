package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classroom/internal/domain"
	"classroom/pkg/logger"
)

type assignmentRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAssignmentRepository(db *pgxpool.Pool, log logger.Logger) AssignmentRepository {
	return &assignmentRepository{db: db, log: log}
}

func (r *assignmentRepository) Assign(ctx context.Context, assignments []domain.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	query := `
		INSERT INTO room_assignments (room_id, identity, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, identity) DO UPDATE SET role = EXCLUDED.role
	`

	batch := &pgx.Batch{}
	for _, a := range assignments {
		batch.Queue(query, a.RoomID, a.Identity, string(a.Role))
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		r.log.Error("Failed to save assignments", "error", err, "count", len(assignments))
		return err
	}
	return nil
}

func (r *assignmentRepository) list(ctx context.Context, query string, arg any) ([]domain.Assignment, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var role string
		if err := rows.Scan(&a.RoomID, &a.Identity, &role); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *assignmentRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]domain.Assignment, error) {
	out, err := r.list(ctx, `SELECT room_id, identity, role FROM room_assignments WHERE room_id = $1 ORDER BY identity`, roomID)
	if err != nil {
		r.log.Error("Failed to list room assignments", "error", err, "room_id", roomID)
		return nil, err
	}
	return out, nil
}

func (r *assignmentRepository) ListByIdentity(ctx context.Context, identity string) ([]domain.Assignment, error) {
	out, err := r.list(ctx, `SELECT room_id, identity, role FROM room_assignments WHERE identity = $1`, identity)
	if err != nil {
		r.log.Error("Failed to list participant assignments", "error", err, "identity", identity)
		return nil, err
	}
	return out, nil
}
