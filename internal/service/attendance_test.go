package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/domain"
)

func TestAttendance_SummarizeForParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	math := f.schedule(t, "s1")
	physics, err := f.svc.Lifecycle.Schedule(ctx, ScheduleInput{
		Subject:          "physics",
		TeacherID:        "teacher-2",
		ScheduledStartAt: at(12, 0),
		DurationMinutes:  60,
		Assignments:      []domain.Assignment{{Identity: "s1", Role: domain.RoleStudent}},
	})
	require.NoError(t, err)
	// еще не завершено, в сводку не входит
	f.schedule(t, "s1")

	_, err = f.deliver(t, joinEvent(math, "s1", "PA_1", at(10, 0)))
	require.NoError(t, err)
	_, err = f.deliver(t, leaveEvent(math, "s1", "PA_1", at(11, 0)))
	require.NoError(t, err)
	_, err = f.deliver(t, roomEvent(domain.EventRoomFinished, math, at(11, 0)))
	require.NoError(t, err)
	_, err = f.deliver(t, roomEvent(domain.EventRoomFinished, physics, at(13, 0)))
	require.NoError(t, err)

	rollup, err := f.svc.Attendance.SummarizeForParticipant(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, rollup.RoomsAssigned)
	assert.Equal(t, 1, rollup.Attended)
	assert.Equal(t, 1, rollup.PresentCount)
	assert.Equal(t, 1, rollup.AbsentCount)
	assert.Equal(t, 50.0, rollup.AttendanceRate)
	assert.Equal(t, int64(3600), rollup.TotalDurationSeconds)

	require.Contains(t, rollup.BySubject, "math")
	require.Contains(t, rollup.BySubject, "physics")
	assert.Equal(t, 1, rollup.BySubject["math"].Attended)
	assert.Equal(t, 0, rollup.BySubject["physics"].Attended)

	require.Len(t, rollup.Rooms, 2)
	assert.Equal(t, math.ID, rollup.Rooms[0].RoomID)
	assert.Equal(t, physics.ID, rollup.Rooms[1].RoomID)
}

func TestAttendance_SummarizeForUnknownParticipant(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, "s1")

	rollup, err := f.svc.Attendance.SummarizeForParticipant(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, rollup.RoomsAssigned)
	assert.Zero(t, rollup.AttendanceRate)
	assert.Empty(t, rollup.Rooms)
}

func TestAttendance_OperatorClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1")

	_, err := f.deliver(t, joinEvent(room, "s1", "PA_1", at(10, 0)))
	require.NoError(t, err)

	f.now = at(10, 40)
	_, err = f.svc.Attendance.Close(ctx, room.ID, "operator-1")
	require.NoError(t, err)

	assert.Equal(t, 1, countEvents(t, f.repos, room.ID, domain.EventAttendanceClosed))
	assert.Len(t, f.publisher.attendance, 1)

	w, err := f.repos.Session.Get(ctx, room.ID, "s1")
	require.NoError(t, err)
	require.NotNil(t, w.FinalizedAt)
	assert.Equal(t, at(10, 40), *w.FinalizedAt)
	assert.False(t, w.HasOpenInterval())

	// повторное закрытие ничего не меняет и не публикует
	_, err = f.svc.Attendance.Close(ctx, room.ID, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(t, f.repos, room.ID, domain.EventAttendanceClosed))
	assert.Len(t, f.publisher.attendance, 1)
}

func TestAttendance_CloseEndedRoomUsesActualEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1")

	_, err := f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 0)))
	require.NoError(t, err)

	f.now = at(15, 0)
	result, err := f.svc.Attendance.Close(ctx, room.ID, "operator-1")
	require.NoError(t, err)
	assert.True(t, result.Final)

	events, err := f.repos.Event.ListByRoom(ctx, room.ID)
	require.NoError(t, err)
	var closed *domain.RoomEvent
	for _, e := range events {
		if e.Kind == domain.EventAttendanceClosed {
			closed = e
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, at(11, 0), closed.OccurredAt)
	assert.Equal(t, "operator:operator-1", closed.ProviderSessionID)
}

func TestAttendance_RebuildKeepsSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1", "s2")

	_, err := f.deliver(t, joinEvent(room, "s1", "PA_1", at(10, 1)))
	require.NoError(t, err)
	_, err = f.deliver(t, joinEvent(room, "s2", "PA_2", at(10, 20)))
	require.NoError(t, err)
	_, err = f.deliver(t, leaveEvent(room, "s2", "PA_2", at(10, 35)))
	require.NoError(t, err)
	_, err = f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 0)))
	require.NoError(t, err)

	before, err := f.svc.Attendance.Summarize(ctx, room.ID)
	require.NoError(t, err)

	after, err := f.svc.Attendance.Rebuild(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Summary, after.Summary)
	assert.Equal(t, 1, after.Summary.PresentCount)
	assert.Equal(t, 1, after.Summary.LeftEarlyCount)
}
