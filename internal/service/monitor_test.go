package service

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/pkg/logger"
)

func TestMonitorHub_RoutesByRoom(t *testing.T) {
	hub := NewMonitorHub(logger.NewNop())
	roomA, roomB := uuid.New(), uuid.New()

	subA := hub.Subscribe(roomA)
	subB := hub.Subscribe(roomB)
	assert.Equal(t, 1, hub.Subscribers(roomA))

	hub.Broadcast(roomA, MonitorMessage{Type: MonitorParticipantIn, RoomID: roomA, Identity: "s1", At: at(10, 0)})

	require.Len(t, subA.C(), 1)
	assert.Len(t, subB.C(), 0)

	var msg MonitorMessage
	require.NoError(t, json.Unmarshal(<-subA.C(), &msg))
	assert.Equal(t, MonitorParticipantIn, msg.Type)
	assert.Equal(t, "s1", msg.Identity)
	assert.Equal(t, at(10, 0), msg.At)
}

func TestMonitorHub_Unsubscribe(t *testing.T) {
	hub := NewMonitorHub(logger.NewNop())
	room := uuid.New()

	sub := hub.Subscribe(room)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers(room))

	// рассылка в пустую комнату не паникует
	hub.Broadcast(room, MonitorMessage{Type: MonitorRoomStatus})
}

func TestMonitorHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMonitorHub(logger.NewNop())
	room := uuid.New()
	sub := hub.Subscribe(room)
	defer hub.Unsubscribe(sub)

	for i := 0; i < monitorBuffer+10; i++ {
		hub.Broadcast(room, MonitorMessage{Type: MonitorRoomStatus, RoomID: room})
	}
	assert.Len(t, sub.C(), monitorBuffer)
}
