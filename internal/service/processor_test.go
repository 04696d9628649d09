package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/domain"
	"classroom/internal/repository"
)

func participantByIdentity(t *testing.T, a *domain.RoomAttendance, identity string) domain.ParticipantAttendance {
	t.Helper()
	for _, p := range a.Participants {
		if p.Identity == identity {
			return p
		}
	}
	t.Fatalf("participant %q not in attendance", identity)
	return domain.ParticipantAttendance{}
}

func TestProcessor_ClassEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1", "s2", "s3")

	_, err := f.svc.Lifecycle.GoLive(ctx, room.ID, "operator-1")
	require.NoError(t, err)

	steps := []*livekit.WebhookEvent{
		participantEvent(domain.EventParticipantJoined, room, "teacher-1", "PA_t", domain.RoleTeacher, at(9, 58)),
		joinEvent(room, "s1", "PA_1", at(10, 2)),
		joinEvent(room, "s2", "PA_2", at(10, 6)),
		leaveEvent(room, "s1", "PA_1", at(10, 10)),
		joinEvent(room, "s1", "PA_3", at(10, 15)),
		leaveEvent(room, "s1", "PA_3", at(10, 58)),
	}
	for _, ev := range steps {
		result, err := f.deliver(t, ev)
		require.NoError(t, err)
		assert.Equal(t, ResultApplied, result)
	}

	f.now = at(11, 0)
	result, err := f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 0)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	summary, err := f.svc.Attendance.Summarize(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, summary.Final)
	assert.Equal(t, 3, summary.Summary.AssignedCount)
	assert.Equal(t, 1, summary.Summary.PresentCount)
	assert.Equal(t, 1, summary.Summary.LateCount)
	assert.Equal(t, 1, summary.Summary.AbsentCount)
	assert.Equal(t, 66.7, summary.Summary.AttendanceRate)
	assert.Equal(t, 1, summary.Summary.TotalRejoins)

	s1 := participantByIdentity(t, summary, "s1")
	assert.Equal(t, domain.AttendancePresent, s1.Status)
	assert.Equal(t, int64(3060), s1.TotalDurationSeconds)

	s2 := participantByIdentity(t, summary, "s2")
	assert.Equal(t, domain.AttendanceLate, s2.Status)
	assert.Equal(t, int64(60), s2.LateBySeconds)
	assert.Equal(t, int64(54*60), s2.TotalDurationSeconds, "open interval closed at room end")

	teacher := participantByIdentity(t, summary, "teacher-1")
	assert.Equal(t, domain.RoleTeacher, teacher.Role)

	stored, err := f.repos.Room.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusEnded, stored.Status)
	require.NotNil(t, stored.ActualEndAt)
	assert.Equal(t, at(11, 0), *stored.ActualEndAt)

	require.Len(t, f.publisher.attendance, 1)
	assert.Equal(t, []domain.EventKind{domain.EventStatusLive, domain.EventStatusEnded}, f.publisher.roomEvents)
}

func TestProcessor_DuplicateRoomFinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1")

	_, err := f.deliver(t, joinEvent(room, "s1", "PA_1", at(10, 0)))
	require.NoError(t, err)

	result, err := f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 0)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	// новая доставка с другим id проходит мимо dedup, но не создает второй переход
	result, err = f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 1)))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)

	assert.Equal(t, 1, countEvents(t, f.repos, room.ID, domain.EventStatusEnded))
	assert.Len(t, f.publisher.attendance, 1)

	stored, err := f.repos.Room.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), *stored.ActualEndAt)
}

func TestProcessor_RoomStartedDoesNotGoLive(t *testing.T) {
	f := newFixture(t)
	room := f.schedule(t)

	result, err := f.deliver(t, roomEvent(domain.EventRoomStarted, room, at(9, 55)))
	require.NoError(t, err)
	assert.Equal(t, ResultRecorded, result)

	stored, err := f.repos.Room.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusScheduled, stored.Status)
	assert.Equal(t, 1, countEvents(t, f.repos, room.ID, domain.EventRoomStarted))
}

func TestProcessor_RedeliveredEventIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	room := f.schedule(t, "s1")
	ev := joinEvent(room, "s1", "PA_1", at(10, 0))

	result, err := f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	result, err = f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)

	assert.Equal(t, 1, countEvents(t, f.repos, room.ID, domain.EventParticipantJoined))
}

func TestProcessor_WindowIdempotentWithoutDedup(t *testing.T) {
	f := newFixture(t, func(r *repository.Repositories) { r.WebhookDedup = nil })
	room := f.schedule(t, "s1")

	first := joinEvent(room, "s1", "PA_1", at(10, 0))
	second := joinEvent(room, "s1", "PA_1", at(10, 0))

	result, err := f.deliver(t, first)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	result, err = f.deliver(t, second)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)

	w, err := f.repos.Session.Get(context.Background(), room.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, w.JoinCount)
}

func TestProcessor_IgnoredDeliveries(t *testing.T) {
	f := newFixture(t)
	room := f.schedule(t, "s1")

	t.Run("orphan leave", func(t *testing.T) {
		result, err := f.deliver(t, leaveEvent(room, "s1", "PA_x", at(10, 5)))
		require.NoError(t, err)
		assert.Equal(t, ResultOrphan, result)
		_, err = f.repos.Session.Get(context.Background(), room.ID, "s1")
		assert.Error(t, err)
	})

	t.Run("unknown room", func(t *testing.T) {
		other := *room
		other.LiveKitRoomName = "not-ours"
		result, err := f.deliver(t, joinEvent(&other, "s1", "PA_1", at(10, 0)))
		require.NoError(t, err)
		assert.Equal(t, ResultUnknownRoom, result)
	})

	t.Run("unknown kind", func(t *testing.T) {
		ev := roomEvent(domain.EventKind("track_published"), room, at(10, 0))
		result, err := f.deliver(t, ev)
		require.NoError(t, err)
		assert.Equal(t, ResultIgnored, result)
	})

	t.Run("hidden observer", func(t *testing.T) {
		ev := participantEvent(domain.EventParticipantJoined, room, "parent-1", "PA_p", domain.RoleParent, at(10, 0))
		result, err := f.deliver(t, ev)
		require.NoError(t, err)
		assert.Equal(t, ResultUntracked, result)
		_, err = f.repos.Session.Get(context.Background(), room.ID, "parent-1")
		assert.Error(t, err)
	})
}

type flakySession struct {
	repository.SessionRepository
	fail bool
}

func (s *flakySession) Insert(ctx context.Context, w *domain.SessionWindow) (bool, error) {
	if s.fail {
		return false, errors.New("connection reset")
	}
	return s.SessionRepository.Insert(ctx, w)
}

func TestProcessor_FailureReleasesDedupClaim(t *testing.T) {
	var flaky *flakySession
	f := newFixture(t, func(r *repository.Repositories) {
		flaky = &flakySession{SessionRepository: r.Session, fail: true}
		r.Session = flaky
	})
	room := f.schedule(t, "s1")
	ev := joinEvent(room, "s1", "PA_1", at(10, 0))

	_, err := f.deliver(t, ev)
	require.Error(t, err)

	flaky.fail = false
	result, err := f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
}

func TestProcessor_LateLeaveAfterFinishCorrectsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.schedule(t, "s1")

	_, err := f.deliver(t, joinEvent(room, "s1", "PA_1", at(10, 0)))
	require.NoError(t, err)
	_, err = f.deliver(t, roomEvent(domain.EventRoomFinished, room, at(11, 0)))
	require.NoError(t, err)

	w, err := f.repos.Session.Get(ctx, room.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttendancePresent, w.Status)
	assert.Equal(t, int64(3600), w.TotalSeconds)

	result, err := f.deliver(t, leaveEvent(room, "s1", "PA_1", at(10, 20)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	w, err = f.repos.Session.Get(ctx, room.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), w.TotalSeconds)
	assert.Equal(t, domain.AttendanceLeftEarly, w.Status)
}

func TestProcessor_BroadcastsToMonitor(t *testing.T) {
	f := newFixture(t)
	room := f.schedule(t, "s1")

	sub := f.svc.Monitor.Subscribe(room.ID)
	defer f.svc.Monitor.Unsubscribe(sub)

	_, err := f.deliver(t, joinEvent(room, "s1", "PA_1", at(10, 0)))
	require.NoError(t, err)

	select {
	case msg := <-sub.C():
		assert.Contains(t, string(msg), `"type":"participant_joined"`)
		assert.Contains(t, string(msg), `"identity":"s1"`)
	case <-time.After(time.Second):
		t.Fatal("no monitor message")
	}
}
