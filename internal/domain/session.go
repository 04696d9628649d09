package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type AttendanceStatus string

const (
	AttendancePresent   AttendanceStatus = "present"
	AttendanceLate      AttendanceStatus = "late"
	AttendanceAbsent    AttendanceStatus = "absent"
	AttendanceLeftEarly AttendanceStatus = "left_early"
)

// Policy - настройки расчета посещаемости
type Policy struct {
	LateGrace           time.Duration
	PresenceThreshold   float64
	EarlyLeaveTolerance time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		LateGrace:           5 * time.Minute,
		PresenceThreshold:   0.5,
		EarlyLeaveTolerance: 5 * time.Minute,
	}
}

// Interval - одно подключение участника. LiveKit выдает новый SID на каждое подключение,
// поэтому SID служит ключом идемпотентности для join/leave.
type Interval struct {
	ParticipantSID string     `json:"participant_sid"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	// Implicit - интервал закрыт без participant_left (переподключение или конец занятия);
	// пришедший позже настоящий leave может уточнить LeftAt.
	Implicit bool `json:"implicit,omitempty"`
}

func (i Interval) Open() bool {
	return i.LeftAt == nil
}

func (i Interval) Duration(now time.Time) time.Duration {
	end := now
	if i.LeftAt != nil {
		end = *i.LeftAt
	}
	if end.Before(i.JoinedAt) {
		return 0
	}
	return end.Sub(i.JoinedAt)
}

type SessionWindow struct {
	RoomID        uuid.UUID        `json:"room_id"`
	Identity      string           `json:"identity"`
	Role          Role             `json:"role"`
	DisplayName   string           `json:"display_name,omitempty"`
	FirstJoinAt   time.Time        `json:"first_join_at"`
	LastLeaveAt   *time.Time       `json:"last_leave_at,omitempty"`
	TotalSeconds  int64            `json:"total_seconds"`
	JoinCount     int              `json:"join_count"`
	IsLate        bool             `json:"is_late"`
	// LateBySeconds отсчитывается от конца льготного периода, а не от начала занятия
	LateBySeconds int64            `json:"late_by_seconds"`
	Intervals     []Interval       `json:"intervals"`
	Status        AttendanceStatus `json:"status,omitempty"`
	FinalizedAt   *time.Time       `json:"finalized_at,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type ApplyOutcome int

const (
	OutcomeApplied ApplyOutcome = iota
	OutcomeDuplicate
	OutcomeOrphan
)

func (o ApplyOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeOrphan:
		return "orphan"
	}
	return "unknown"
}

func NewSessionWindow(roomID uuid.UUID, identity string, role Role) *SessionWindow {
	return &SessionWindow{RoomID: roomID, Identity: identity, Role: role}
}

// Clone - глубокая копия для CAS-цикла
func (w *SessionWindow) Clone() *SessionWindow {
	c := *w
	c.Intervals = make([]Interval, len(w.Intervals))
	for i, iv := range w.Intervals {
		c.Intervals[i] = iv
		if iv.LeftAt != nil {
			t := *iv.LeftAt
			c.Intervals[i].LeftAt = &t
		}
	}
	if w.LastLeaveAt != nil {
		t := *w.LastLeaveAt
		c.LastLeaveAt = &t
	}
	if w.FinalizedAt != nil {
		t := *w.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

func (w *SessionWindow) find(sid string) int {
	for i := range w.Intervals {
		if w.Intervals[i].ParticipantSID == sid {
			return i
		}
	}
	return -1
}

func (w *SessionWindow) HasOpenInterval() bool {
	for _, iv := range w.Intervals {
		if iv.Open() {
			return true
		}
	}
	return false
}

// ApplyJoin открывает интервал для sid. Повторная доставка того же sid - duplicate.
// Открытый интервал с другим sid закрывается моментом нового подключения:
// LiveKit не держит два подключения с одной identity.
func (w *SessionWindow) ApplyJoin(sid string, at time.Time, scheduledStart time.Time, grace time.Duration) ApplyOutcome {
	if w.find(sid) >= 0 {
		return OutcomeDuplicate
	}
	for i := range w.Intervals {
		iv := &w.Intervals[i]
		if iv.Open() && !at.Before(iv.JoinedAt) {
			closeAt := at
			iv.LeftAt = &closeAt
			iv.Implicit = true
		}
	}
	// join старого подключения пришел после join более нового: старое закрывается началом нового
	iv := Interval{ParticipantSID: sid, JoinedAt: at}
	for _, other := range w.Intervals {
		if other.JoinedAt.After(at) && (iv.LeftAt == nil || other.JoinedAt.Before(*iv.LeftAt)) {
			closeAt := other.JoinedAt
			iv.LeftAt = &closeAt
			iv.Implicit = true
		}
	}
	w.Intervals = append(w.Intervals, iv)
	w.recompute(scheduledStart, grace)
	return OutcomeApplied
}

// ApplyLeave закрывает интервал sid. Leave без интервала - orphan.
func (w *SessionWindow) ApplyLeave(sid string, at time.Time, scheduledStart time.Time, grace time.Duration) ApplyOutcome {
	idx := w.find(sid)
	if idx < 0 {
		return OutcomeOrphan
	}
	iv := &w.Intervals[idx]
	leftAt := at
	if leftAt.Before(iv.JoinedAt) {
		leftAt = iv.JoinedAt
	}
	switch {
	case iv.Open():
		iv.LeftAt = &leftAt
	case iv.Implicit && leftAt.Before(*iv.LeftAt):
		iv.LeftAt = &leftAt
		iv.Implicit = false
	default:
		return OutcomeDuplicate
	}
	w.recompute(scheduledStart, grace)
	return OutcomeApplied
}

// CloseOpen закрывает все открытые интервалы моментом at. Возвращает true, если что-то закрыто.
func (w *SessionWindow) CloseOpen(at time.Time, scheduledStart time.Time, grace time.Duration) bool {
	closed := false
	for i := range w.Intervals {
		iv := &w.Intervals[i]
		if !iv.Open() {
			continue
		}
		closeAt := at
		if closeAt.Before(iv.JoinedAt) {
			closeAt = iv.JoinedAt
		}
		iv.LeftAt = &closeAt
		iv.Implicit = true
		closed = true
	}
	if closed {
		w.recompute(scheduledStart, grace)
	}
	return closed
}

// recompute пересчитывает производные поля из интервалов, чтобы результат
// не зависел от порядка доставки событий разных подключений.
func (w *SessionWindow) recompute(scheduledStart time.Time, grace time.Duration) {
	sort.SliceStable(w.Intervals, func(i, j int) bool {
		return w.Intervals[i].JoinedAt.Before(w.Intervals[j].JoinedAt)
	})

	var total time.Duration
	var lastLeave *time.Time
	for _, iv := range w.Intervals {
		if iv.Open() {
			continue
		}
		total += iv.Duration(*iv.LeftAt)
		if lastLeave == nil || iv.LeftAt.After(*lastLeave) {
			t := *iv.LeftAt
			lastLeave = &t
		}
	}

	w.TotalSeconds = int64(total / time.Second)
	w.LastLeaveAt = lastLeave
	w.JoinCount = len(w.Intervals)
	if len(w.Intervals) > 0 {
		w.FirstJoinAt = w.Intervals[0].JoinedAt
	}

	w.IsLate, w.LateBySeconds = lateness(w.FirstJoinAt, scheduledStart, grace)
}

// lateness: опоздание отсчитывается от конца льготного периода
// (начало 10:00, льгота 5 минут, вход в 10:06 -> 60 секунд).
func lateness(firstJoin, scheduledStart time.Time, grace time.Duration) (bool, int64) {
	deadline := scheduledStart.Add(grace)
	if firstJoin.IsZero() || !firstJoin.After(deadline) {
		return false, 0
	}
	return true, int64(firstJoin.Sub(deadline) / time.Second)
}

// DurationAt - накопленное время с учетом открытых интервалов до now
func (w *SessionWindow) DurationAt(now time.Time) time.Duration {
	var total time.Duration
	for _, iv := range w.Intervals {
		total += iv.Duration(now)
	}
	return total
}

// Evaluation - вычисленный статус присутствия
type Evaluation struct {
	Status AttendanceStatus `json:"status"`
	// Attended - набран ли порог присутствия (в том числе для late и left_early)
	Attended        bool  `json:"attended"`
	DurationSeconds int64 `json:"duration_seconds"`
	LeftEarly       bool  `json:"left_early"`
}

// Evaluate считает статус участника. w == nil означает, что участник не подключался.
// Для идущих занятий открытые интервалы учитываются до now.
func Evaluate(w *SessionWindow, room *Room, policy Policy, now time.Time) Evaluation {
	if w == nil || len(w.Intervals) == 0 {
		return Evaluation{Status: AttendanceAbsent}
	}

	duration := w.DurationAt(now)
	required := time.Duration(policy.PresenceThreshold * float64(room.Duration()))
	attended := duration >= required

	leftEarly := false
	if !w.HasOpenInterval() && w.LastLeaveAt != nil {
		leftEarly = w.LastLeaveAt.Before(room.ScheduledEndAt().Add(-policy.EarlyLeaveTolerance))
	}

	ev := Evaluation{
		Attended:        attended,
		DurationSeconds: int64(duration / time.Second),
		LeftEarly:       leftEarly,
	}
	switch {
	case attended && w.IsLate:
		ev.Status = AttendanceLate
	case leftEarly:
		ev.Status = AttendanceLeftEarly
	case attended:
		ev.Status = AttendancePresent
	default:
		ev.Status = AttendanceAbsent
	}
	return ev
}

// Finalize закрывает открытые интервалы и фиксирует итоговый статус окна
func (w *SessionWindow) Finalize(room *Room, policy Policy, at time.Time) {
	w.CloseOpen(at, room.ScheduledStartAt, policy.LateGrace)
	w.Status = Evaluate(w, room, policy, at).Status
	finalizedAt := at
	w.FinalizedAt = &finalizedAt
}

// Refinalize пересчитывает статус уже закрытого окна после позднего события:
// новые интервалы закрываются моментом FinalizedAt, повторного Finalize нет.
func (w *SessionWindow) Refinalize(room *Room, policy Policy) {
	if w.FinalizedAt == nil {
		return
	}
	w.CloseOpen(*w.FinalizedAt, room.ScheduledStartAt, policy.LateGrace)
	w.Status = Evaluate(w, room, policy, *w.FinalizedAt).Status
}

// ReplayWindows восстанавливает окна комнаты из журнала событий по тем же
// правилам, что и живой трекер: join после конца занятия пропускается,
// закрытое окно только пересчитывается.
func ReplayWindows(room *Room, policy Policy, events []*RoomEvent) map[string]*SessionWindow {
	sorted := make([]*RoomEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	var endedAt *time.Time
	if room.Status == RoomStatusEnded {
		endedAt = room.ActualEndAt
	}
	if endedAt == nil {
		for _, ev := range sorted {
			if ev.Kind == EventStatusEnded {
				t := ev.OccurredAt
				endedAt = &t
				break
			}
		}
	}

	windows := make(map[string]*SessionWindow)
	for _, ev := range sorted {
		switch ev.Kind {
		case EventParticipantJoined, EventParticipantLeft:
			if ev.ParticipantIdentity == nil {
				continue
			}
			var role Role
			if ev.Role != nil {
				role = *ev.Role
			}
			if !Tracked(role) {
				continue
			}
			identity := *ev.ParticipantIdentity
			w, ok := windows[identity]
			if ev.Kind == EventParticipantJoined {
				if endedAt != nil && ev.OccurredAt.After(*endedAt) {
					continue
				}
				if !ok {
					w = NewSessionWindow(room.ID, identity, role)
					windows[identity] = w
				}
				if w.ApplyJoin(ev.ProviderSessionID, ev.OccurredAt, room.ScheduledStartAt, policy.LateGrace) != OutcomeApplied {
					continue
				}
				if name, ok := ev.Payload["display_name"].(string); ok && name != "" {
					w.DisplayName = name
				}
				w.Refinalize(room, policy)
			} else if ok {
				if w.ApplyLeave(ev.ProviderSessionID, ev.OccurredAt, room.ScheduledStartAt, policy.LateGrace) == OutcomeApplied {
					w.Refinalize(room, policy)
				}
			}
		case EventStatusEnded, EventAttendanceClosed:
			for _, w := range windows {
				if w.FinalizedAt == nil {
					w.Finalize(room, policy, ev.OccurredAt)
				}
			}
		}
	}
	return windows
}
