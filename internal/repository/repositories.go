package repository

import (
	"context"
	"time"

	"classroom/internal/domain"
	"classroom/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetByLiveKitRoomName(ctx context.Context, name string) (*domain.Room, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Room, error)
	// TransitionStatus меняет статус, только если текущий входит в from, и в той же
	// транзакции пишет событие перехода. false - комната уже не в from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.RoomStatus, to domain.RoomStatus, at time.Time, event *domain.RoomEvent) (bool, error)
}

type EventRepository interface {
	// Append вставляет событие; false - такое событие уже записано
	Append(ctx context.Context, event *domain.RoomEvent) (bool, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*domain.RoomEvent, error)
}

type SessionRepository interface {
	Get(ctx context.Context, roomID uuid.UUID, identity string) (*domain.SessionWindow, error)
	// Insert создает окно с version=1; false - окно уже существует
	Insert(ctx context.Context, window *domain.SessionWindow) (bool, error)
	// CompareAndSwap сохраняет окно, только если version в хранилище равна expected
	CompareAndSwap(ctx context.Context, window *domain.SessionWindow, expected int64) (bool, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*domain.SessionWindow, error)
	ListByIdentity(ctx context.Context, identity string) ([]*domain.SessionWindow, error)
	ReplaceRoom(ctx context.Context, roomID uuid.UUID, windows []*domain.SessionWindow) error
}

type AssignmentRepository interface {
	Assign(ctx context.Context, assignments []domain.Assignment) error
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]domain.Assignment, error)
	ListByIdentity(ctx context.Context, identity string) ([]domain.Assignment, error)
}

type WebhookDedupRepository interface {
	// Claim помечает событие как обрабатываемое; false - его уже кто-то забрал
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type RateLimitRepository interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

type Repositories struct {
	Room         RoomRepository
	Event        EventRepository
	Session      SessionRepository
	Assignment   AssignmentRepository
	WebhookDedup WebhookDedupRepository
	RateLimit    RateLimitRepository
}

// querier - общее у pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewRepositories(db *pgxpool.Pool, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Room:       NewRoomRepository(db, log),
		Event:      NewEventRepository(db, log),
		Session:    NewSessionRepository(db, log),
		Assignment: NewAssignmentRepository(db, log),
	}

	if rdb != nil {
		repos.WebhookDedup = NewWebhookDedupRepository(rdb, log)
		repos.RateLimit = NewRateLimitRepository(rdb, log)
		log.Info("Redis-backed dedup and rate limit repositories initialized")
	} else {
		log.Warn("Redis is not configured, webhook dedup and rate limiting are disabled")
	}

	return repos
}

func statusStrings(statuses []domain.RoomStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
