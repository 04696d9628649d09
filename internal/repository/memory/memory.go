// Package memory - хранилища в памяти процесса. Используются в тестах
// и при DATABASE_DRIVER=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/internal/domain"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
)

// Store держит все данные под одним мьютексом, чтобы TransitionStatus
// атомарно менял статус и писал событие, как транзакция в Postgres.
type Store struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]*domain.Room
	events      []*domain.RoomEvent
	nextEventID int64
	windows     map[windowKey]*domain.SessionWindow
	assignments map[uuid.UUID]map[string]domain.Assignment
	claims      map[string]time.Time
	counters    map[string]*counter
	now         func() time.Time
}

type windowKey struct {
	roomID   uuid.UUID
	identity string
}

type counter struct {
	count     int
	expiresAt time.Time
}

func NewStore() *Store {
	return &Store{
		rooms:       make(map[uuid.UUID]*domain.Room),
		windows:     make(map[windowKey]*domain.SessionWindow),
		assignments: make(map[uuid.UUID]map[string]domain.Assignment),
		claims:      make(map[string]time.Time),
		counters:    make(map[string]*counter),
		now:         time.Now,
	}
}

// NewRepositories собирает все репозитории поверх одного Store
func NewRepositories(s *Store) *repository.Repositories {
	return &repository.Repositories{
		Room:         &roomRepository{s},
		Event:        &eventRepository{s},
		Session:      &sessionRepository{s},
		Assignment:   &assignmentRepository{s},
		WebhookDedup: &dedupRepository{s},
		RateLimit:    &rateLimitRepository{s},
	}
}

func copyRoom(r *domain.Room) *domain.Room {
	c := *r
	if r.ActualStartAt != nil {
		t := *r.ActualStartAt
		c.ActualStartAt = &t
	}
	if r.ActualEndAt != nil {
		t := *r.ActualEndAt
		c.ActualEndAt = &t
	}
	return &c
}

func copyEvent(e *domain.RoomEvent) *domain.RoomEvent {
	c := *e
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

type roomRepository struct{ s *Store }

func (r *roomRepository) Create(_ context.Context, room *domain.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.rooms {
		if existing.LiveKitRoomName == room.LiveKitRoomName {
			return fmt.Errorf("room name %q: %w", room.LiveKitRoomName, apperrors.ErrConflict)
		}
	}
	if _, ok := r.s.rooms[room.ID]; ok {
		return fmt.Errorf("room %s: %w", room.ID, apperrors.ErrConflict)
	}

	now := r.s.now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	r.s.rooms[room.ID] = copyRoom(room)
	return nil
}

func (r *roomRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (r *roomRepository) GetByLiveKitRoomName(_ context.Context, name string) (*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, room := range r.s.rooms {
		if room.LiveKitRoomName == name {
			return copyRoom(room), nil
		}
	}
	return nil, apperrors.ErrRoomNotFound
}

func (r *roomRepository) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var rooms []*domain.Room
	for _, id := range ids {
		if room, ok := r.s.rooms[id]; ok {
			rooms = append(rooms, copyRoom(room))
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ScheduledStartAt.Before(rooms[j].ScheduledStartAt)
	})
	return rooms, nil
}

func (r *roomRepository) TransitionStatus(_ context.Context, id uuid.UUID, from []domain.RoomStatus, to domain.RoomStatus, at time.Time, event *domain.RoomEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return false, apperrors.ErrRoomNotFound
	}

	allowed := false
	for _, s := range from {
		if room.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	room.Status = to
	switch to {
	case domain.RoomStatusLive:
		if room.ActualStartAt == nil {
			t := at
			room.ActualStartAt = &t
		}
	case domain.RoomStatusEnded:
		if room.ActualEndAt == nil {
			t := at
			room.ActualEndAt = &t
		}
	}
	room.UpdatedAt = r.s.now().UTC()

	if event != nil {
		r.s.appendLocked(event)
	}
	return true, nil
}

type eventRepository struct{ s *Store }

// appendLocked вызывается под s.mu
func (s *Store) appendLocked(event *domain.RoomEvent) bool {
	for _, e := range s.events {
		if e.RoomID == event.RoomID && e.Kind == event.Kind &&
			e.ProviderSessionID == event.ProviderSessionID && e.OccurredAt.Equal(event.OccurredAt) {
			return false
		}
	}
	s.nextEventID++
	event.ID = s.nextEventID
	event.CreatedAt = s.now().UTC()
	s.events = append(s.events, copyEvent(event))
	return true
}

func (r *eventRepository) Append(_ context.Context, event *domain.RoomEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.appendLocked(event), nil
}

func (r *eventRepository) ListByRoom(_ context.Context, roomID uuid.UUID) ([]*domain.RoomEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.RoomEvent
	for _, e := range r.s.events {
		if e.RoomID == roomID {
			out = append(out, copyEvent(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

type sessionRepository struct{ s *Store }

func (r *sessionRepository) Get(_ context.Context, roomID uuid.UUID, identity string) (*domain.SessionWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.windows[windowKey{roomID, identity}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return w.Clone(), nil
}

func (r *sessionRepository) Insert(_ context.Context, w *domain.SessionWindow) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertLocked(w), nil
}

func (s *Store) insertLocked(w *domain.SessionWindow) bool {
	key := windowKey{w.RoomID, w.Identity}
	if _, ok := s.windows[key]; ok {
		return false
	}
	now := s.now().UTC()
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now
	s.windows[key] = w.Clone()
	return true
}

func (r *sessionRepository) CompareAndSwap(_ context.Context, w *domain.SessionWindow, expected int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := windowKey{w.RoomID, w.Identity}
	current, ok := r.s.windows[key]
	if !ok || current.Version != expected {
		return false, nil
	}
	w.Version = expected + 1
	w.CreatedAt = current.CreatedAt
	w.UpdatedAt = r.s.now().UTC()
	r.s.windows[key] = w.Clone()
	return true, nil
}

func (r *sessionRepository) ListByRoom(_ context.Context, roomID uuid.UUID) ([]*domain.SessionWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.SessionWindow
	for key, w := range r.s.windows {
		if key.roomID == roomID {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (r *sessionRepository) ListByIdentity(_ context.Context, identity string) ([]*domain.SessionWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.SessionWindow
	for key, w := range r.s.windows {
		if key.identity == identity {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

func (r *sessionRepository) ReplaceRoom(_ context.Context, roomID uuid.UUID, windows []*domain.SessionWindow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for key := range r.s.windows {
		if key.roomID == roomID {
			delete(r.s.windows, key)
		}
	}
	for _, w := range windows {
		r.s.insertLocked(w)
	}
	return nil
}

type assignmentRepository struct{ s *Store }

func (r *assignmentRepository) Assign(_ context.Context, assignments []domain.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range assignments {
		byIdentity, ok := r.s.assignments[a.RoomID]
		if !ok {
			byIdentity = make(map[string]domain.Assignment)
			r.s.assignments[a.RoomID] = byIdentity
		}
		byIdentity[a.Identity] = a
	}
	return nil
}

func (r *assignmentRepository) ListByRoom(_ context.Context, roomID uuid.UUID) ([]domain.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Assignment
	for _, a := range r.s.assignments[roomID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (r *assignmentRepository) ListByIdentity(_ context.Context, identity string) ([]domain.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Assignment
	for _, byIdentity := range r.s.assignments {
		if a, ok := byIdentity[identity]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type dedupRepository struct{ s *Store }

func (r *dedupRepository) Claim(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	if expires, ok := r.s.claims[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	r.s.claims[eventID] = now.Add(ttl)
	return true, nil
}

func (r *dedupRepository) Release(_ context.Context, eventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.claims, eventID)
	return nil
}

type rateLimitRepository struct{ s *Store }

func (r *rateLimitRepository) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	c, ok := r.s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(window)}
		r.s.counters[key] = c
	}
	c.count++

	remaining := limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return c.count <= limit, remaining, nil
}
