package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"

	"classroom/internal/config"
	"classroom/internal/domain"
	"classroom/internal/repository"
	"classroom/internal/repository/memory"
	"classroom/pkg/logger"
)

const (
	testAPIKey    = "APIclassroomtest"
	testAPISecret = "classroom-test-secret-0123456789abcdef"
)

var classStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func testConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{WebhookDedupTTL: time.Hour},
		LiveKit: config.LiveKitConfig{
			URL:           "ws://livekit:7880",
			APIKey:        testAPIKey,
			APISecret:     testAPISecret,
			CredentialTTL: 4 * time.Hour,
			ProbeTTL:      5 * time.Minute,
		},
		Attendance: config.AttendanceConfig{
			LateGrace:           5 * time.Minute,
			PresenceThreshold:   0.5,
			EarlyLeaveTolerance: 5 * time.Minute,
			JoinWindowBefore:    15 * time.Minute,
			ExpireAfterEnd:      2 * time.Hour,
		},
		RateLimit: config.RateLimitConfig{Limit: 3, Window: time.Minute},
	}
}

type recordingPublisher struct {
	mu         sync.Mutex
	attendance []*domain.RoomAttendance
	roomEvents []domain.EventKind
}

func (p *recordingPublisher) PublishAttendance(_ context.Context, a *domain.RoomAttendance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attendance = append(p.attendance, a)
	return nil
}

func (p *recordingPublisher) PublishRoomEvent(_ context.Context, _ uuid.UUID, kind domain.EventKind, _ map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomEvents = append(p.roomEvents, kind)
	return nil
}

type fixture struct {
	repos     *repository.Repositories
	svc       *Services
	publisher *recordingPublisher
	now       time.Time
}

// newFixture собирает сервисы поверх памяти; configure может подменить репозитории
func newFixture(t *testing.T, configure ...func(*repository.Repositories)) *fixture {
	t.Helper()

	f := &fixture{now: at(9, 50), publisher: &recordingPublisher{}}
	f.repos = memory.NewRepositories(memory.NewStore())
	for _, fn := range configure {
		fn(f.repos)
	}
	f.svc = NewServices(f.repos, f.publisher, testConfig(), logger.NewNop())

	clock := func() time.Time { return f.now }
	f.svc.Lifecycle.(*lifecycleService).now = clock
	f.svc.Attendance.(*attendanceService).now = clock
	f.svc.Credential.(*credentialService).now = clock
	f.svc.Webhook.(*webhookGateway).now = clock
	return f
}

func (f *fixture) schedule(t *testing.T, students ...string) *domain.Room {
	t.Helper()

	assignments := make([]domain.Assignment, len(students))
	for i, s := range students {
		assignments[i] = domain.Assignment{Identity: s, Role: domain.RoleStudent}
	}
	room, err := f.svc.Lifecycle.Schedule(context.Background(), ScheduleInput{
		Title:            "Algebra",
		Subject:          "math",
		TeacherID:        "teacher-1",
		ScheduledStartAt: classStart,
		DurationMinutes:  60,
		Assignments:      assignments,
	})
	require.NoError(t, err)
	return room
}

func signWebhook(t *testing.T, body []byte, key, secret string) string {
	t.Helper()

	sum := sha256.Sum256(body)
	token, err := auth.NewAccessToken(key, secret).
		SetValidFor(5 * time.Minute).
		SetSha256(base64.StdEncoding.EncodeToString(sum[:])).
		ToJWT()
	require.NoError(t, err)
	return token
}

func marshalWebhook(t *testing.T, raw *livekit.WebhookEvent) []byte {
	t.Helper()
	body, err := protojson.Marshal(raw)
	require.NoError(t, err)
	return body
}

// deliver подписывает событие, как это делает LiveKit, и прогоняет через шлюз и процессор
func (f *fixture) deliver(t *testing.T, raw *livekit.WebhookEvent) (string, error) {
	t.Helper()

	body := marshalWebhook(t, raw)
	ev, err := f.svc.Webhook.VerifyAndDecode(body, signWebhook(t, body, testAPIKey, testAPISecret))
	require.NoError(t, err)
	return f.svc.Processor.Handle(context.Background(), ev)
}

func participantEvent(kind domain.EventKind, room *domain.Room, identity, sid string, role domain.Role, when time.Time) *livekit.WebhookEvent {
	p := &livekit.ParticipantInfo{Sid: sid, Identity: identity, Name: identity}
	if role != "" {
		p.Metadata = `{"role":"` + string(role) + `"}`
	}
	if kind == domain.EventParticipantJoined {
		p.JoinedAt = when.Unix()
	}
	return &livekit.WebhookEvent{
		Event:       string(kind),
		Id:          "EV_" + uuid.NewString(),
		Room:        &livekit.Room{Sid: "RM_" + room.ID.String()[:8], Name: room.LiveKitRoomName},
		Participant: p,
		CreatedAt:   when.Unix(),
	}
}

func joinEvent(room *domain.Room, identity, sid string, when time.Time) *livekit.WebhookEvent {
	return participantEvent(domain.EventParticipantJoined, room, identity, sid, domain.RoleStudent, when)
}

func leaveEvent(room *domain.Room, identity, sid string, when time.Time) *livekit.WebhookEvent {
	return participantEvent(domain.EventParticipantLeft, room, identity, sid, domain.RoleStudent, when)
}

func roomEvent(kind domain.EventKind, room *domain.Room, when time.Time) *livekit.WebhookEvent {
	return &livekit.WebhookEvent{
		Event:     string(kind),
		Id:        "EV_" + uuid.NewString(),
		Room:      &livekit.Room{Sid: "RM_" + room.ID.String()[:8], Name: room.LiveKitRoomName},
		CreatedAt: when.Unix(),
	}
}

func countEvents(t *testing.T, repos *repository.Repositories, roomID uuid.UUID, kind domain.EventKind) int {
	t.Helper()
	events, err := repos.Event.ListByRoom(context.Background(), roomID)
	require.NoError(t, err)
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
