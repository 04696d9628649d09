package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func testRoom(status RoomStatus) *Room {
	return &Room{
		ID:               uuid.New(),
		LiveKitRoomName:  "class-1",
		TeacherID:        "teacher-1",
		Status:           status,
		ScheduledStartAt: classStart,
		DurationMinutes:  60,
	}
}

type step struct {
	join bool
	sid  string
	at   time.Time
}

func apply(w *SessionWindow, steps []step) {
	grace := DefaultPolicy().LateGrace
	for _, s := range steps {
		if s.join {
			w.ApplyJoin(s.sid, s.at, classStart, grace)
		} else {
			w.ApplyLeave(s.sid, s.at, classStart, grace)
		}
	}
}

func TestSessionWindow_EndToEndScenario(t *testing.T) {
	room := testRoom(RoomStatusEnded)
	w := NewSessionWindow(room.ID, "student-1", RoleStudent)

	apply(w, []step{
		{true, "PA_1", at(10, 2)},
		{false, "PA_1", at(10, 10)},
		{true, "PA_2", at(10, 15)},
		{false, "PA_2", at(10, 58)},
	})

	assert.Equal(t, 2, w.JoinCount)
	assert.Equal(t, int64(3060), w.TotalSeconds)
	assert.False(t, w.IsLate)
	assert.Equal(t, at(10, 2), w.FirstJoinAt)
	require.NotNil(t, w.LastLeaveAt)
	assert.Equal(t, at(10, 58), *w.LastLeaveAt)

	ev := Evaluate(w, room, DefaultPolicy(), at(11, 0))
	assert.Equal(t, AttendancePresent, ev.Status)
	assert.True(t, ev.Attended)
}

func TestSessionWindow_DeliveryOrderIndependent(t *testing.T) {
	join1 := step{true, "PA_1", at(10, 2)}
	leave1 := step{false, "PA_1", at(10, 10)}
	join2 := step{true, "PA_2", at(10, 15)}
	leave2 := step{false, "PA_2", at(10, 58)}

	// каждая перестановка сохраняет порядок join -> leave внутри одного подключения
	orders := map[string][]step{
		"in order":             {join1, leave1, join2, leave2},
		"second join first":    {join2, join1, leave1, leave2},
		"leave1 after join2":   {join1, join2, leave1, leave2},
		"leave1 last":          {join1, join2, leave2, leave1},
		"second session first": {join2, leave2, join1, leave1},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
			apply(w, order)
			assert.Equal(t, int64(3060), w.TotalSeconds)
			assert.Equal(t, 2, w.JoinCount)
			assert.Equal(t, at(10, 2), w.FirstJoinAt)
			assert.False(t, w.HasOpenInterval())
		})
	}
}

func TestSessionWindow_DuplicateDeliveries(t *testing.T) {
	w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
	grace := DefaultPolicy().LateGrace

	assert.Equal(t, OutcomeApplied, w.ApplyJoin("PA_1", at(10, 0), classStart, grace))
	assert.Equal(t, OutcomeDuplicate, w.ApplyJoin("PA_1", at(10, 0), classStart, grace))
	assert.Equal(t, OutcomeApplied, w.ApplyLeave("PA_1", at(10, 20), classStart, grace))
	assert.Equal(t, OutcomeDuplicate, w.ApplyLeave("PA_1", at(10, 20), classStart, grace))
	assert.Equal(t, OutcomeDuplicate, w.ApplyJoin("PA_1", at(10, 0), classStart, grace))

	assert.Equal(t, 1, w.JoinCount)
	assert.Equal(t, int64(20*60), w.TotalSeconds)
}

func TestSessionWindow_OrphanLeave(t *testing.T) {
	w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
	grace := DefaultPolicy().LateGrace

	assert.Equal(t, OutcomeOrphan, w.ApplyLeave("PA_unknown", at(10, 5), classStart, grace))
	assert.Equal(t, 0, w.JoinCount)
	assert.Equal(t, int64(0), w.TotalSeconds)
}

func TestSessionWindow_OpenIntervalNotPersistedAsFinal(t *testing.T) {
	room := testRoom(RoomStatusLive)
	w := NewSessionWindow(room.ID, "student-1", RoleStudent)
	w.ApplyJoin("PA_1", at(10, 0), classStart, DefaultPolicy().LateGrace)

	assert.Equal(t, int64(0), w.TotalSeconds)
	assert.True(t, w.HasOpenInterval())
	assert.Equal(t, 40*time.Minute, w.DurationAt(at(10, 40)))

	ev := Evaluate(w, room, DefaultPolicy(), at(10, 40))
	assert.Equal(t, int64(40*60), ev.DurationSeconds)
	assert.Equal(t, AttendancePresent, ev.Status)
}

func TestLateDetection(t *testing.T) {
	tests := []struct {
		name      string
		firstJoin time.Time
		wantLate  bool
		wantBy    int64
	}{
		{name: "on time", firstJoin: at(10, 0), wantLate: false},
		{name: "early", firstJoin: at(9, 55), wantLate: false},
		{name: "within grace", firstJoin: at(10, 4), wantLate: false},
		{name: "exactly at grace", firstJoin: at(10, 5), wantLate: false},
		{name: "after grace", firstJoin: at(10, 6), wantLate: true, wantBy: 60},
		{name: "well after grace", firstJoin: at(10, 20), wantLate: true, wantBy: 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
			w.ApplyJoin("PA_1", tt.firstJoin, classStart, 5*time.Minute)
			assert.Equal(t, tt.wantLate, w.IsLate)
			assert.Equal(t, tt.wantBy, w.LateBySeconds)
		})
	}
}

func TestLateness_OnlyFirstJoinCounts(t *testing.T) {
	w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
	apply(w, []step{
		{true, "PA_1", at(10, 1)},
		{false, "PA_1", at(10, 5)},
		{true, "PA_2", at(10, 30)},
	})
	assert.False(t, w.IsLate)
	assert.Equal(t, int64(0), w.LateBySeconds)
}

func TestEvaluate_PresenceThreshold(t *testing.T) {
	room := testRoom(RoomStatusEnded)
	policy := DefaultPolicy()

	tests := []struct {
		name   string
		steps  []step
		want   AttendanceStatus
		attend bool
	}{
		{
			name:  "28 minutes then left",
			steps: []step{{true, "a", at(10, 0)}, {false, "a", at(10, 28)}},
			want:  AttendanceLeftEarly,
		},
		{
			name:  "28 minutes until the end",
			steps: []step{{true, "a", at(10, 32)}, {false, "a", at(11, 0)}},
			want:  AttendanceAbsent,
		},
		{
			name: "31 minutes until the end",
			steps: []step{
				{true, "a", at(10, 0)}, {false, "a", at(10, 10)},
				{true, "b", at(10, 39)}, {false, "b", at(11, 0)},
			},
			want:   AttendancePresent,
			attend: true,
		},
		{
			name:   "31 minutes then left",
			steps:  []step{{true, "a", at(10, 0)}, {false, "a", at(10, 31)}},
			want:   AttendanceLeftEarly,
			attend: true,
		},
		{
			name:   "late and present",
			steps:  []step{{true, "a", at(10, 10)}, {false, "a", at(11, 0)}},
			want:   AttendanceLate,
			attend: true,
		},
		{
			name:   "late overrides left early",
			steps:  []step{{true, "a", at(10, 10)}, {false, "a", at(10, 45)}},
			want:   AttendanceLate,
			attend: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewSessionWindow(room.ID, "student-1", RoleStudent)
			apply(w, tt.steps)
			ev := Evaluate(w, room, policy, at(11, 0))
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, tt.attend, ev.Attended)
		})
	}
}

func TestEvaluate_NoWindowIsAbsent(t *testing.T) {
	ev := Evaluate(nil, testRoom(RoomStatusEnded), DefaultPolicy(), at(11, 0))
	assert.Equal(t, AttendanceAbsent, ev.Status)
	assert.Equal(t, int64(0), ev.DurationSeconds)
}

func TestSessionWindow_Finalize(t *testing.T) {
	room := testRoom(RoomStatusEnded)
	w := NewSessionWindow(room.ID, "student-1", RoleStudent)
	w.ApplyJoin("PA_1", at(10, 0), classStart, DefaultPolicy().LateGrace)

	w.Finalize(room, DefaultPolicy(), at(11, 0))

	assert.False(t, w.HasOpenInterval())
	assert.Equal(t, int64(3600), w.TotalSeconds)
	assert.Equal(t, AttendancePresent, w.Status)
	require.NotNil(t, w.FinalizedAt)

	// настоящий leave, пришедший после завершения, уточняет время
	outcome := w.ApplyLeave("PA_1", at(10, 50), classStart, DefaultPolicy().LateGrace)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int64(3000), w.TotalSeconds)
}

func TestSessionWindow_CloneIsDeep(t *testing.T) {
	w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
	apply(w, []step{{true, "a", at(10, 0)}, {false, "a", at(10, 20)}})

	c := w.Clone()
	c.ApplyLeave("a", at(10, 10), classStart, time.Minute)
	*c.Intervals[0].LeftAt = at(10, 1)

	assert.Equal(t, at(10, 20), *w.Intervals[0].LeftAt)
	assert.Equal(t, int64(1200), w.TotalSeconds)
}

func TestReplayWindows(t *testing.T) {
	room := testRoom(RoomStatusEnded)
	identity := "student-1"
	student := RoleStudent
	parent := RoleParent
	parentID := "parent-1"

	events := []*RoomEvent{
		{ID: 1, Kind: EventParticipantJoined, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_1", OccurredAt: at(10, 2), Payload: map[string]any{"display_name": "Asha"}},
		{ID: 2, Kind: EventParticipantJoined, ParticipantIdentity: &parentID, Role: &parent, ProviderSessionID: "PA_9", OccurredAt: at(10, 3)},
		{ID: 4, Kind: EventParticipantJoined, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_2", OccurredAt: at(10, 15)},
		{ID: 3, Kind: EventParticipantLeft, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_1", OccurredAt: at(10, 10)},
		{ID: 5, Kind: EventParticipantLeft, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_2", OccurredAt: at(10, 58)},
		{ID: 6, Kind: EventStatusEnded, OccurredAt: at(11, 0)},
	}

	windows := ReplayWindows(room, DefaultPolicy(), events)

	require.Len(t, windows, 1, "hidden roles are not tracked")
	w := windows[identity]
	require.NotNil(t, w)
	assert.Equal(t, "Asha", w.DisplayName)
	assert.Equal(t, 2, w.JoinCount)
	assert.Equal(t, int64(3060), w.TotalSeconds)
	assert.Equal(t, AttendancePresent, w.Status)
}

func TestReplayWindows_FinalizedWindowIsNotReopened(t *testing.T) {
	room := testRoom(RoomStatusEnded)
	end := at(11, 0)
	room.ActualEndAt = &end
	identity := "student-1"
	student := RoleStudent

	events := []*RoomEvent{
		{ID: 1, Kind: EventParticipantJoined, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_1", OccurredAt: at(10, 0)},
		{ID: 2, Kind: EventParticipantLeft, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_1", OccurredAt: at(10, 20)},
		{ID: 3, Kind: EventAttendanceClosed, OccurredAt: at(10, 40)},
		{ID: 4, Kind: EventParticipantJoined, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_2", OccurredAt: at(10, 45)},
		{ID: 5, Kind: EventStatusEnded, OccurredAt: at(11, 0)},
		{ID: 6, Kind: EventParticipantJoined, ParticipantIdentity: &identity, Role: &student, ProviderSessionID: "PA_3", OccurredAt: at(11, 30)},
	}

	w := ReplayWindows(room, DefaultPolicy(), events)[identity]
	require.NotNil(t, w)
	assert.Equal(t, 2, w.JoinCount, "join after the end is skipped")
	assert.False(t, w.HasOpenInterval())
	assert.Equal(t, int64(1200), w.TotalSeconds)
	assert.Equal(t, at(10, 40), *w.FinalizedAt)
	assert.Equal(t, AttendanceLeftEarly, w.Status)
}

func TestSessionWindow_OlderJoinDeliveredLate(t *testing.T) {
	w := NewSessionWindow(uuid.New(), "student-1", RoleStudent)
	grace := DefaultPolicy().LateGrace

	w.ApplyJoin("PA_2", at(10, 30), classStart, grace)
	w.ApplyJoin("PA_1", at(10, 0), classStart, grace)

	require.Len(t, w.Intervals, 2)
	assert.Equal(t, "PA_1", w.Intervals[0].ParticipantSID)
	require.NotNil(t, w.Intervals[0].LeftAt)
	assert.Equal(t, at(10, 30), *w.Intervals[0].LeftAt)
	assert.True(t, w.Intervals[0].Implicit)
	assert.Equal(t, int64(1800), w.TotalSeconds)
	assert.Equal(t, at(10, 0), w.FirstJoinAt)
	assert.False(t, w.IsLate)

	assert.Equal(t, OutcomeApplied, w.ApplyLeave("PA_1", at(10, 20), classStart, grace))
	assert.Equal(t, int64(1200), w.TotalSeconds)
}
