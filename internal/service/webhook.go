package service

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"

	"classroom/internal/domain"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

// WebhookGateway проверяет подпись вебхука LiveKit и декодирует тело
type WebhookGateway interface {
	VerifyAndDecode(body []byte, authHeader string) (domain.Event, error)
}

type webhookGateway struct {
	keys auth.KeyProvider
	log  logger.Logger
	now  func() time.Time
}

func NewWebhookGateway(keys auth.KeyProvider, log logger.Logger) WebhookGateway {
	return &webhookGateway{keys: keys, log: log, now: time.Now}
}

func (g *webhookGateway) VerifyAndDecode(body []byte, authHeader string) (domain.Event, error) {
	if err := g.verify(body, authHeader); err != nil {
		g.log.Warn("Webhook signature rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSignature, err)
	}

	var raw livekit.WebhookEvent
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}

	return g.decode(&raw)
}

func (g *webhookGateway) verify(body []byte, authHeader string) error {
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return fmt.Errorf("authorization header is empty")
	}

	v, err := auth.ParseAPIToken(token)
	if err != nil {
		return err
	}

	secret := g.keys.GetSecret(v.APIKey())
	if secret == "" {
		return fmt.Errorf("unknown api key %q", v.APIKey())
	}

	claims, err := v.Verify(secret)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	if claims.Sha256 != base64.StdEncoding.EncodeToString(sum[:]) {
		return fmt.Errorf("body checksum mismatch")
	}
	return nil
}

func (g *webhookGateway) eventTime(raw *livekit.WebhookEvent) time.Time {
	if raw.CreatedAt > 0 {
		return time.Unix(raw.CreatedAt, 0).UTC()
	}
	return g.now().UTC()
}

func (g *webhookGateway) decode(raw *livekit.WebhookEvent) (domain.Event, error) {
	roomName := raw.GetRoom().GetName()
	at := g.eventTime(raw)

	switch domain.EventKind(raw.Event) {
	case domain.EventRoomStarted, domain.EventRoomFinished:
		if roomName == "" {
			return nil, fmt.Errorf("%w: %s without room", apperrors.ErrMalformedEvent, raw.Event)
		}
		if raw.Event == string(domain.EventRoomStarted) {
			return domain.RoomStarted{EventID: raw.Id, RoomName: roomName, ProviderSessionID: raw.GetRoom().GetSid(), At: at}, nil
		}
		return domain.RoomFinished{EventID: raw.Id, RoomName: roomName, ProviderSessionID: raw.GetRoom().GetSid(), At: at}, nil

	case domain.EventParticipantJoined, domain.EventParticipantLeft:
		p := raw.GetParticipant()
		if roomName == "" || p.GetIdentity() == "" || p.GetSid() == "" {
			return nil, fmt.Errorf("%w: %s without room or participant", apperrors.ErrMalformedEvent, raw.Event)
		}
		role := g.roleFromMetadata(p.GetMetadata(), p.GetIdentity())
		if raw.Event == string(domain.EventParticipantJoined) {
			joinedAt := at
			if p.GetJoinedAt() > 0 {
				joinedAt = time.Unix(p.GetJoinedAt(), 0).UTC()
			}
			return domain.ParticipantJoined{
				EventID:                raw.Id,
				RoomName:               roomName,
				Identity:               p.GetIdentity(),
				Role:                   role,
				DisplayName:            p.GetName(),
				ProviderParticipantSID: p.GetSid(),
				JoinedAt:               joinedAt,
			}, nil
		}
		return domain.ParticipantLeft{
			EventID:                raw.Id,
			RoomName:               roomName,
			Identity:               p.GetIdentity(),
			Role:                   role,
			ProviderParticipantSID: p.GetSid(),
			LeftAt:                 at,
		}, nil
	}

	return domain.UnknownEvent{EventID: raw.Id, Name: raw.Event, RoomName: roomName}, nil
}

// roleFromMetadata достает роль из metadata, которую положил CredentialIssuer.
// Без роли участник считается обычным и учитывается в посещаемости.
func (g *webhookGateway) roleFromMetadata(metadata, identity string) domain.Role {
	if metadata == "" {
		return ""
	}
	var md struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal([]byte(metadata), &md); err != nil || md.Role == "" {
		return ""
	}
	role, err := domain.ParseRole(md.Role)
	if err != nil {
		g.log.Warn("Unknown role in participant metadata", "identity", identity, "role", md.Role)
		return ""
	}
	return role
}
