package service

import (
	"context"
	"errors"

	"talkingrock/internal/repository"
)

// ErrAnalyticsUnavailable means no request-log store is configured
var ErrAnalyticsUnavailable = errors.New("analytics store not configured")

// AnalyticsService serves the read-only admin analytics endpoints over the
// request-log repository.
type AnalyticsService struct {
	repo *repository.RequestLogRepo // nil when Mongo is not configured
}

// NewAnalyticsService creates the analytics service
func NewAnalyticsService(repo *repository.RequestLogRepo) *AnalyticsService {
	return &AnalyticsService{repo: repo}
}

// Summary aggregates the last days of traffic
func (s *AnalyticsService) Summary(ctx context.Context, days int) (*repository.SummaryStats, error) {
	if s.repo == nil {
		return nil, ErrAnalyticsUnavailable
	}
	if days <= 0 || days > 365 {
		days = 7
	}
	return s.repo.Summary(ctx, days)
}

// Daily returns per-day counts
func (s *AnalyticsService) Daily(ctx context.Context, days int) ([]repository.DailyCount, error) {
	if s.repo == nil {
		return nil, ErrAnalyticsUnavailable
	}
	if days <= 0 || days > 365 {
		days = 30
	}
	return s.repo.Daily(ctx, days)
}
