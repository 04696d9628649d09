package service

import (
	"github.com/livekit/protocol/auth"

	"classroom/internal/config"
	"classroom/internal/domain"
	"classroom/internal/messaging"
	"classroom/internal/repository"
	"classroom/pkg/logger"
)

type Services struct {
	Credential CredentialService
	Webhook    WebhookGateway
	Lifecycle  LifecycleService
	Tracker    SessionTracker
	Attendance AttendanceService
	Processor  EventProcessor
	RateLimit  RateLimitService
	Monitor    MonitorHub
}

// PolicyFromConfig переводит настройки окружения в политику расчета посещаемости
func PolicyFromConfig(cfg config.AttendanceConfig) domain.Policy {
	policy := domain.DefaultPolicy()
	if cfg.LateGrace > 0 {
		policy.LateGrace = cfg.LateGrace
	}
	if cfg.PresenceThreshold > 0 {
		policy.PresenceThreshold = cfg.PresenceThreshold
	}
	if cfg.EarlyLeaveTolerance > 0 {
		policy.EarlyLeaveTolerance = cfg.EarlyLeaveTolerance
	}
	return policy
}

func NewServices(repos *repository.Repositories, publisher messaging.Publisher, cfg *config.Config, log logger.Logger) *Services {
	policy := PolicyFromConfig(cfg.Attendance)
	hub := NewMonitorHub(log)

	lifecycle := NewLifecycleService(repos, publisher, hub, cfg.Attendance, log)
	tracker := NewSessionTracker(repos.Room, repos.Event, repos.Session, policy, log)
	attendance := NewAttendanceService(repos, tracker, publisher, hub, policy, log)

	services := &Services{
		Credential: NewCredentialService(repos.Room, NewCredentialIssuer(cfg.LiveKit), cfg.LiveKit, log),
		Webhook:    NewWebhookGateway(auth.NewFileBasedKeyProviderFromMap(cfg.LiveKit.WebhookKeys()), log),
		Lifecycle:  lifecycle,
		Tracker:    tracker,
		Attendance: attendance,
		Processor:  NewEventProcessor(repos, cfg.Redis.WebhookDedupTTL, lifecycle, tracker, attendance, publisher, hub, log),
		RateLimit:  NewRateLimitService(repos.RateLimit, cfg.RateLimit, log),
		Monitor:    hub,
	}

	if repos.WebhookDedup == nil {
		log.Warn("Webhook dedup repository is nil, relying on idempotent session windows")
	}

	return services
}
