package domain

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

type ParticipantAttendance struct {
	Identity             string           `json:"identity"`
	DisplayName          string           `json:"display_name,omitempty"`
	Role                 Role             `json:"role,omitempty"`
	Status               AttendanceStatus `json:"status"`
	Attended             bool             `json:"attended"`
	IsLate               bool             `json:"is_late"`
	LateBySeconds        int64            `json:"late_by_seconds"`
	FirstJoinAt          *time.Time       `json:"first_join_at,omitempty"`
	LastLeaveAt          *time.Time       `json:"last_leave_at,omitempty"`
	TotalDurationSeconds int64            `json:"total_duration_seconds"`
	JoinCount            int              `json:"join_count"`
	Active               bool             `json:"active"`
	// Unassigned - окно есть, а назначения нет (MissingAssignment); в счетчики не входит
	Unassigned bool `json:"unassigned,omitempty"`
}

type AttendanceSummary struct {
	AssignedCount          int     `json:"assigned_count"`
	PresentCount           int     `json:"present_count"`
	LateCount              int     `json:"late_count"`
	AbsentCount            int     `json:"absent_count"`
	LeftEarlyCount         int     `json:"left_early_count"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	TotalRejoins           int     `json:"total_rejoins"`
	AttendanceRate         float64 `json:"attendance_rate"`
}

type RoomAttendance struct {
	RoomID       uuid.UUID               `json:"room_id"`
	RoomStatus   RoomStatus              `json:"room_status"`
	Final        bool                    `json:"final"`
	GeneratedAt  time.Time               `json:"generated_at"`
	Participants []ParticipantAttendance `json:"participants"`
	Summary      AttendanceSummary       `json:"summary"`
}

// Percent - процент с одним знаком после запятой
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

// evaluationTime - момент, на который считается статус: для завершенной комнаты это
// фактический конец, для идущей - now.
func evaluationTime(room *Room, now time.Time) time.Time {
	if room.Status == RoomStatusEnded && room.ActualEndAt != nil {
		return *room.ActualEndAt
	}
	return now
}

func participantRow(identity string, role Role, w *SessionWindow, room *Room, policy Policy, now time.Time) ParticipantAttendance {
	ev := Evaluate(w, room, policy, evaluationTime(room, now))
	row := ParticipantAttendance{
		Identity:             identity,
		Role:                 role,
		Status:               ev.Status,
		Attended:             ev.Attended,
		TotalDurationSeconds: ev.DurationSeconds,
	}
	if w == nil {
		return row
	}
	if w.Status != "" && room.Status == RoomStatusEnded {
		row.Status = w.Status
	}
	if row.Role == "" {
		row.Role = w.Role
	}
	first := w.FirstJoinAt
	row.DisplayName = w.DisplayName
	row.IsLate = w.IsLate
	row.LateBySeconds = w.LateBySeconds
	row.FirstJoinAt = &first
	row.LastLeaveAt = w.LastLeaveAt
	row.JoinCount = w.JoinCount
	row.Active = w.HasOpenInterval()
	return row
}

// BuildRoomAttendance соединяет назначения с окнами. Возвращает также identity окон,
// для которых нет назначения.
func BuildRoomAttendance(room *Room, assignments []Assignment, windows []*SessionWindow, policy Policy, now time.Time) (*RoomAttendance, []string) {
	byIdentity := make(map[string]*SessionWindow, len(windows))
	for _, w := range windows {
		byIdentity[w.Identity] = w
	}

	result := &RoomAttendance{
		RoomID:      room.ID,
		RoomStatus:  room.Status,
		Final:       room.Status == RoomStatusEnded,
		GeneratedAt: now,
	}

	seen := make(map[string]bool, len(assignments))
	var joinedCount int
	var joinedDuration int64
	summary := &result.Summary
	for _, a := range assignments {
		if seen[a.Identity] || a.Identity == room.TeacherID {
			continue
		}
		seen[a.Identity] = true
		w := byIdentity[a.Identity]
		row := participantRow(a.Identity, a.Role, w, room, policy, now)
		result.Participants = append(result.Participants, row)

		summary.AssignedCount++
		switch row.Status {
		case AttendancePresent:
			summary.PresentCount++
		case AttendanceLate:
			summary.LateCount++
		case AttendanceLeftEarly:
			summary.LeftEarlyCount++
		default:
			summary.AbsentCount++
		}
		if row.Attended {
			joinedCount++
		}
		if w != nil {
			joinedDuration += row.TotalDurationSeconds
			if row.JoinCount > 1 {
				summary.TotalRejoins += row.JoinCount - 1
			}
		}
	}

	var unassigned []string
	var withWindow int
	for _, row := range result.Participants {
		if row.JoinCount > 0 {
			withWindow++
		}
	}
	if withWindow > 0 {
		summary.AverageDurationSeconds = math.Round(float64(joinedDuration)/float64(withWindow)*10) / 10
	}
	summary.AttendanceRate = Percent(joinedCount, summary.AssignedCount)

	rest := make([]*SessionWindow, 0)
	for _, w := range windows {
		if !seen[w.Identity] {
			rest = append(rest, w)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Identity < rest[j].Identity })
	for _, w := range rest {
		if w.Identity == room.TeacherID {
			result.Participants = append(result.Participants, participantRow(w.Identity, RoleTeacher, w, room, policy, now))
			continue
		}
		row := participantRow(w.Identity, "", w, room, policy, now)
		row.Unassigned = true
		result.Participants = append(result.Participants, row)
		unassigned = append(unassigned, w.Identity)
	}

	return result, unassigned
}

type SubjectRollup struct {
	RoomsAssigned  int     `json:"rooms_assigned"`
	Attended       int     `json:"attended"`
	AttendanceRate float64 `json:"attendance_rate"`
}

type ParticipantRoomAttendance struct {
	RoomID           uuid.UUID `json:"room_id"`
	Subject          string    `json:"subject,omitempty"`
	ScheduledStartAt time.Time `json:"scheduled_start_at"`
	ParticipantAttendance
}

type ParticipantRollup struct {
	Identity             string                      `json:"identity"`
	RoomsAssigned        int                         `json:"rooms_assigned"`
	Attended             int                         `json:"attended"`
	PresentCount         int                         `json:"present_count"`
	LateCount            int                         `json:"late_count"`
	AbsentCount          int                         `json:"absent_count"`
	LeftEarlyCount       int                         `json:"left_early_count"`
	TotalDurationSeconds int64                       `json:"total_duration_seconds"`
	AttendanceRate       float64                     `json:"attendance_rate"`
	BySubject            map[string]*SubjectRollup   `json:"by_subject"`
	Rooms                []ParticipantRoomAttendance `json:"rooms"`
}

// BuildParticipantRollup сводит посещаемость участника по завершенным занятиям.
// Знаменатель - занятия, на которые участник назначен.
func BuildParticipantRollup(identity string, rooms []*Room, assigned map[uuid.UUID]Role, windows map[uuid.UUID]*SessionWindow, policy Policy, now time.Time) *ParticipantRollup {
	rollup := &ParticipantRollup{Identity: identity, BySubject: make(map[string]*SubjectRollup)}

	sorted := make([]*Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Status == RoomStatusEnded {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ScheduledStartAt.Before(sorted[j].ScheduledStartAt) })

	for _, room := range sorted {
		role, isAssigned := assigned[room.ID]
		w := windows[room.ID]
		if !isAssigned && w == nil {
			continue
		}
		row := participantRow(identity, role, w, room, policy, now)
		row.Unassigned = !isAssigned
		rollup.Rooms = append(rollup.Rooms, ParticipantRoomAttendance{
			RoomID:                room.ID,
			Subject:               room.Subject,
			ScheduledStartAt:      room.ScheduledStartAt,
			ParticipantAttendance: row,
		})
		if !isAssigned {
			continue
		}

		rollup.RoomsAssigned++
		rollup.TotalDurationSeconds += row.TotalDurationSeconds
		switch row.Status {
		case AttendancePresent:
			rollup.PresentCount++
		case AttendanceLate:
			rollup.LateCount++
		case AttendanceLeftEarly:
			rollup.LeftEarlyCount++
		default:
			rollup.AbsentCount++
		}

		subject := rollup.BySubject[room.Subject]
		if subject == nil {
			subject = &SubjectRollup{}
			rollup.BySubject[room.Subject] = subject
		}
		subject.RoomsAssigned++
		if row.Attended {
			rollup.Attended++
			subject.Attended++
		}
	}

	rollup.AttendanceRate = Percent(rollup.Attended, rollup.RoomsAssigned)
	for _, s := range rollup.BySubject {
		s.AttendanceRate = Percent(s.Attended, s.RoomsAssigned)
	}
	return rollup
}
