package service

import (
	"context"

	"classroom/internal/config"
	"classroom/internal/repository"
	"classroom/pkg/logger"
)

type RateLimitService interface {
	// Allow считает запрос по ключу. remaining - сколько осталось в текущем окне.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Limit() int
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) Limit() int {
	return s.cfg.Limit
}

func (s *rateLimitService) Allow(ctx context.Context, key string) (bool, int, error) {
	// без Redis лимит не применяется
	if s.rateLimitRepo == nil || s.cfg.Limit <= 0 {
		return true, s.cfg.Limit, nil
	}
	return s.rateLimitRepo.Allow(ctx, key, s.cfg.Limit, s.cfg.Window)
}
