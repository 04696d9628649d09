package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classroom/internal/domain"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

type sessionRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewSessionRepository(db *pgxpool.Pool, log logger.Logger) SessionRepository {
	return &sessionRepository{db: db, log: log}
}

const sessionColumns = `room_id, identity, role, display_name, first_join_at, last_leave_at,
		       total_seconds, join_count, is_late, late_by_seconds, intervals, status,
		       finalized_at, version, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.SessionWindow, error) {
	w := &domain.SessionWindow{}
	var role, status string
	err := row.Scan(
		&w.RoomID, &w.Identity, &role, &w.DisplayName, &w.FirstJoinAt, &w.LastLeaveAt,
		&w.TotalSeconds, &w.JoinCount, &w.IsLate, &w.LateBySeconds, &w.Intervals, &status,
		&w.FinalizedAt, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Role = domain.Role(role)
	w.Status = domain.AttendanceStatus(status)
	return w, nil
}

func intervalsOrEmpty(w *domain.SessionWindow) []domain.Interval {
	if w.Intervals == nil {
		return []domain.Interval{}
	}
	return w.Intervals
}

func (r *sessionRepository) Get(ctx context.Context, roomID uuid.UUID, identity string) (*domain.SessionWindow, error) {
	query := `SELECT ` + sessionColumns + ` FROM session_windows WHERE room_id = $1 AND identity = $2`

	w, err := scanSession(r.db.QueryRow(ctx, query, roomID, identity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.log.Error("Failed to get session window", "error", err, "room_id", roomID, "identity", identity)
		return nil, err
	}
	return w, nil
}

func insertSession(ctx context.Context, q querier, w *domain.SessionWindow) (bool, error) {
	query := `
		INSERT INTO session_windows (room_id, identity, role, display_name, first_join_at, last_leave_at,
		                             total_seconds, join_count, is_late, late_by_seconds, intervals, status,
		                             finalized_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		ON CONFLICT (room_id, identity) DO NOTHING
		RETURNING version, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		w.RoomID, w.Identity, string(w.Role), w.DisplayName, w.FirstJoinAt, w.LastLeaveAt,
		w.TotalSeconds, w.JoinCount, w.IsLate, w.LateBySeconds, intervalsOrEmpty(w), string(w.Status),
		w.FinalizedAt,
	).Scan(&w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *sessionRepository) Insert(ctx context.Context, w *domain.SessionWindow) (bool, error) {
	inserted, err := insertSession(ctx, r.db, w)
	if err != nil {
		r.log.Error("Failed to insert session window", "error", err, "room_id", w.RoomID, "identity", w.Identity)
		return false, err
	}
	return inserted, nil
}

func (r *sessionRepository) CompareAndSwap(ctx context.Context, w *domain.SessionWindow, expected int64) (bool, error) {
	query := `
		UPDATE session_windows
		SET role = $3, display_name = $4, first_join_at = $5, last_leave_at = $6,
		    total_seconds = $7, join_count = $8, is_late = $9, late_by_seconds = $10,
		    intervals = $11, status = $12, finalized_at = $13,
		    version = version + 1, updated_at = now()
		WHERE room_id = $1 AND identity = $2 AND version = $14
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		w.RoomID, w.Identity, string(w.Role), w.DisplayName, w.FirstJoinAt, w.LastLeaveAt,
		w.TotalSeconds, w.JoinCount, w.IsLate, w.LateBySeconds, intervalsOrEmpty(w), string(w.Status),
		w.FinalizedAt, expected,
	).Scan(&w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.log.Error("Failed to update session window", "error", err, "room_id", w.RoomID, "identity", w.Identity)
		return false, err
	}
	return true, nil
}

func (r *sessionRepository) list(ctx context.Context, query string, arg any) ([]*domain.SessionWindow, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []*domain.SessionWindow
	for rows.Next() {
		w, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (r *sessionRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*domain.SessionWindow, error) {
	query := `SELECT ` + sessionColumns + ` FROM session_windows WHERE room_id = $1 ORDER BY identity`

	windows, err := r.list(ctx, query, roomID)
	if err != nil {
		r.log.Error("Failed to list session windows", "error", err, "room_id", roomID)
		return nil, err
	}
	return windows, nil
}

func (r *sessionRepository) ListByIdentity(ctx context.Context, identity string) ([]*domain.SessionWindow, error) {
	query := `SELECT ` + sessionColumns + ` FROM session_windows WHERE identity = $1`

	windows, err := r.list(ctx, query, identity)
	if err != nil {
		r.log.Error("Failed to list participant session windows", "error", err, "identity", identity)
		return nil, err
	}
	return windows, nil
}

// ReplaceRoom заменяет все окна комнаты одной транзакцией (пересборка из журнала)
func (r *sessionRepository) ReplaceRoom(ctx context.Context, roomID uuid.UUID, windows []*domain.SessionWindow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM session_windows WHERE room_id = $1`, roomID); err != nil {
		r.log.Error("Failed to clear session windows", "error", err, "room_id", roomID)
		return err
	}

	for _, w := range windows {
		if _, err := insertSession(ctx, tx, w); err != nil {
			r.log.Error("Failed to insert rebuilt session window", "error", err, "identity", w.Identity)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit session rebuild", "error", err, "room_id", roomID)
		return err
	}
	return nil
}
