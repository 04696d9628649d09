// Package messaging рассылает итоги посещаемости и события комнат через NATS
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"classroom/internal/domain"
	"classroom/pkg/logger"
)

const (
	SubjectAttendanceFinalized = "attendance.finalized"
	SubjectRoomEvent           = "room.%s"
)

// NatsConn - часть *nats.Conn, нужная издателю
type NatsConn interface {
	IsConnected() bool
	Publish(subj string, data []byte) error
}

type Publisher interface {
	PublishAttendance(ctx context.Context, attendance *domain.RoomAttendance) error
	PublishRoomEvent(ctx context.Context, roomID uuid.UUID, kind domain.EventKind, payload map[string]any) error
}

type RoomEventMessage struct {
	RoomID  uuid.UUID        `json:"room_id"`
	Kind    domain.EventKind `json:"kind"`
	Payload map[string]any   `json:"payload,omitempty"`
	SentAt  time.Time        `json:"sent_at"`
}

type natsPublisher struct {
	conn   NatsConn
	prefix string
	log    logger.Logger
}

func NewNATSPublisher(conn NatsConn, prefix string, log logger.Logger) Publisher {
	return &natsPublisher{conn: conn, prefix: prefix, log: log}
}

func (p *natsPublisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *natsPublisher) send(subject string, v any) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats is not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Error("Failed to publish to NATS", "error", err, "subject", subject)
		return err
	}
	p.log.Debug("Published to NATS", "subject", subject)
	return nil
}

func (p *natsPublisher) PublishAttendance(_ context.Context, attendance *domain.RoomAttendance) error {
	return p.send(p.subject(SubjectAttendanceFinalized), attendance)
}

func (p *natsPublisher) PublishRoomEvent(_ context.Context, roomID uuid.UUID, kind domain.EventKind, payload map[string]any) error {
	return p.send(p.subject(fmt.Sprintf(SubjectRoomEvent, kind)), RoomEventMessage{
		RoomID:  roomID,
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
}

type noopPublisher struct{}

// NewNoopPublisher используется, когда NATS_URL не задан
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) PublishAttendance(context.Context, *domain.RoomAttendance) error { return nil }

func (noopPublisher) PublishRoomEvent(context.Context, uuid.UUID, domain.EventKind, map[string]any) error {
	return nil
}

// Connect подключается к NATS с бесконечным переподключением
func Connect(url string, log logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("classroom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
}
