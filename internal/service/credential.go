package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"

	"classroom/internal/config"
	"classroom/internal/domain"
	"classroom/internal/repository"
	apperrors "classroom/pkg/errors"
	"classroom/pkg/logger"
)

const DefaultCredentialTTL = 4 * time.Hour

// CredentialIssuer подписывает токены LiveKit. Состояния не держит.
type CredentialIssuer interface {
	IssueCredential(roomName, identity, displayName string, role domain.Role, metadata map[string]any, ttl time.Duration) (string, error)
}

type credentialIssuer struct {
	apiKey     string
	apiSecret  string
	defaultTTL time.Duration
}

func NewCredentialIssuer(cfg config.LiveKitConfig) CredentialIssuer {
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &credentialIssuer{apiKey: cfg.APIKey, apiSecret: cfg.APISecret, defaultTTL: ttl}
}

// EffectiveTTL: запрошенный TTL принимается, только если он короче стандартного
func EffectiveTTL(requested, defaultTTL time.Duration) time.Duration {
	if requested > 0 && requested < defaultTTL {
		return requested
	}
	return defaultTTL
}

func (i *credentialIssuer) IssueCredential(roomName, identity, displayName string, role domain.Role, metadata map[string]any, ttl time.Duration) (string, error) {
	if roomName == "" || identity == "" {
		return "", fmt.Errorf("room name and identity are required: %w", apperrors.ErrBadRequest)
	}

	grant, err := domain.ResolveGrant(role)
	if err != nil {
		return "", err
	}

	// роль уходит в metadata участника и возвращается в вебхуках
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["role"] = string(role)
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshal participant metadata: %w", err)
	}

	canPublish := grant.CanPublish
	canSubscribe := grant.CanSubscribe
	canPublishData := grant.CanPublishData
	videoGrant := &auth.VideoGrant{
		RoomJoin:          true,
		Room:              roomName,
		CanPublish:        &canPublish,
		CanSubscribe:      &canSubscribe,
		CanPublishData:    &canPublishData,
		CanPublishSources: grant.PublishSources,
		Hidden:            grant.Hidden,
		RoomAdmin:         grant.Admin,
		RoomRecord:        grant.Record,
	}

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	at.AddGrant(videoGrant).
		SetIdentity(identity).
		SetName(displayName).
		SetMetadata(string(mdJSON)).
		SetValidFor(EffectiveTTL(ttl, i.defaultTTL))

	return at.ToJWT()
}

type CredentialRequest struct {
	Identity    string
	DisplayName string
	Role        domain.Role
	Metadata    map[string]any
	TTL         time.Duration
}

type Credential struct {
	Token      string            `json:"token"`
	URL        string            `json:"url"`
	RoomName   string            `json:"room_name"`
	RoomStatus domain.RoomStatus `json:"room_status"`
	Identity   string            `json:"identity"`
	Role       domain.Role       `json:"role"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

type CredentialService interface {
	Issue(ctx context.Context, roomID uuid.UUID, req CredentialRequest) (*Credential, error)
	// IssueProbe выдает короткий скрытый токен для проверки связи с LiveKit
	IssueProbe(ctx context.Context, roomID uuid.UUID, identity string) (*Credential, error)
}

type credentialService struct {
	roomRepo repository.RoomRepository
	issuer   CredentialIssuer
	cfg      config.LiveKitConfig
	log      logger.Logger
	now      func() time.Time
}

func NewCredentialService(roomRepo repository.RoomRepository, issuer CredentialIssuer, cfg config.LiveKitConfig, log logger.Logger) CredentialService {
	return &credentialService{
		roomRepo: roomRepo,
		issuer:   issuer,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *credentialService) Issue(ctx context.Context, roomID uuid.UUID, req CredentialRequest) (*Credential, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !room.AcceptsJoins(now) {
		s.log.Warn("Credential requested for closed room", "room_id", roomID, "status", room.Status, "identity", req.Identity)
		return nil, apperrors.ErrRoomEnded
	}

	defaultTTL := s.cfg.CredentialTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultCredentialTTL
	}
	ttl := EffectiveTTL(req.TTL, defaultTTL)

	token, err := s.issuer.IssueCredential(room.LiveKitRoomName, req.Identity, req.DisplayName, req.Role, req.Metadata, ttl)
	if err != nil {
		s.log.Error("Failed to generate LiveKit token", "error", err, "room_id", roomID, "role", req.Role)
		return nil, err
	}

	s.log.Info("Credential issued", "room_id", roomID, "identity", req.Identity, "role", req.Role)

	return &Credential{
		Token:      token,
		URL:        PublicLiveKitURL(s.cfg),
		RoomName:   room.LiveKitRoomName,
		RoomStatus: room.Status,
		Identity:   req.Identity,
		Role:       req.Role,
		ExpiresAt:  now.Add(ttl).UTC(),
	}, nil
}

func (s *credentialService) IssueProbe(ctx context.Context, roomID uuid.UUID, identity string) (*Credential, error) {
	if identity == "" {
		identity = "probe-" + uuid.NewString()
	}
	ttl := s.cfg.ProbeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return s.Issue(ctx, roomID, CredentialRequest{
		Identity:    identity,
		DisplayName: "connectivity probe",
		Role:        domain.RoleGhost,
		Metadata:    map[string]any{"probe": true},
		TTL:         ttl,
	})
}

// PublicLiveKitURL - адрес LiveKit для браузера. FrontendURL важнее внутреннего URL.
func PublicLiveKitURL(cfg config.LiveKitConfig) string {
	url := cfg.FrontendURL
	if url == "" {
		url = cfg.URL
	}
	if url == "" {
		url = "ws://localhost:7880"
	}

	// ws://livekit:7880 (имя контейнера) -> ws://localhost:7880
	if strings.Contains(url, "livekit:7880") {
		url = strings.Replace(url, "livekit:7880", "localhost:7880", 1)
	}

	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://"):
		url = "ws://" + url
	}
	return url
}
