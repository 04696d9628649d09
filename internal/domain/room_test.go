package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "classroom/pkg/errors"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name        string
		current     RoomStatus
		trigger     Trigger
		wantNext    RoomStatus
		wantChanged bool
		wantErr     error
	}{
		{"scheduled goes live", RoomStatusScheduled, TriggerGoLive, RoomStatusLive, true, nil},
		{"live cannot go live again", RoomStatusLive, TriggerGoLive, RoomStatusLive, false, apperrors.ErrInvalidTransition},
		{"ended cannot go live", RoomStatusEnded, TriggerGoLive, RoomStatusEnded, false, apperrors.ErrInvalidTransition},
		{"live finishes", RoomStatusLive, TriggerRoomFinished, RoomStatusEnded, true, nil},
		{"scheduled finishes", RoomStatusScheduled, TriggerRoomFinished, RoomStatusEnded, true, nil},
		{"duplicate finish is a no-op", RoomStatusEnded, TriggerRoomFinished, RoomStatusEnded, false, nil},
		{"unknown trigger", RoomStatusLive, Trigger("reschedule"), RoomStatusLive, false, apperrors.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := NextStatus(tt.current, tt.trigger)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantChanged, changed)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextStatus_NeverBackToScheduled(t *testing.T) {
	for _, s := range []RoomStatus{RoomStatusScheduled, RoomStatusLive, RoomStatusEnded} {
		for _, tr := range []Trigger{TriggerGoLive, TriggerRoomFinished} {
			next, _, _ := NextStatus(s, tr)
			if s != RoomStatusScheduled {
				assert.NotEqual(t, RoomStatusScheduled, next)
			}
			if s == RoomStatusEnded {
				assert.Equal(t, RoomStatusEnded, next)
			}
		}
	}
}

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []RoomStatus{RoomStatusScheduled}, AllowedFrom(TriggerGoLive))
	assert.Equal(t, []RoomStatus{RoomStatusScheduled, RoomStatusLive}, AllowedFrom(TriggerRoomFinished))
}

func TestRoom_AcceptsJoins(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	r := &Room{Status: RoomStatusScheduled, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, r.AcceptsJoins(now))

	r.Status = RoomStatusLive
	assert.True(t, r.AcceptsJoins(now))

	r.ExpiresAt = now.Add(-time.Minute)
	assert.False(t, r.AcceptsJoins(now))

	r = &Room{Status: RoomStatusEnded}
	assert.False(t, r.AcceptsJoins(now))
}
