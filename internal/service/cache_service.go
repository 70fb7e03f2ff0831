package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// CalendarPage is the cached shape of a calendar listing.
type CalendarPage struct {
	Items []models.ClassInstance `json:"items"`
	Total int                    `json:"total"`
}

// CacheService caches calendar listings per studio. Cache failures never fail
// the request; they are logged and the caller falls through to the store.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// CalendarKey derives the cache key for a calendar filter.
func CalendarKey(filter models.CalendarFilter) string {
	return fmt.Sprintf("calendar:%s:%s:%s:%s:%s:%d:%d",
		filter.StudioID, formatDay(filter.From), formatDay(filter.To),
		filter.TeacherID, filter.LocationID, filter.Page, filter.PageSize)
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

// GetCalendar returns a cached page and whether it was a hit.
func (s *CacheService) GetCalendar(ctx context.Context, filter models.CalendarFilter) (*CalendarPage, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := CalendarKey(filter)
	start := time.Now()
	var page CalendarPage
	err := s.repo.Get(ctx, key, &page)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("calendar cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return &page, true
}

// PutCalendar stores a page of the calendar.
func (s *CacheService) PutCalendar(ctx context.Context, filter models.CalendarFilter, page CalendarPage) {
	if !s.Enabled() {
		return
	}
	key := CalendarKey(filter)
	if err := s.repo.Set(ctx, key, page, s.ttl); err != nil {
		s.logger.Warn("calendar cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateStudio drops every cached calendar page for a studio.
func (s *CacheService) InvalidateStudio(ctx context.Context, studioID string) {
	if !s.Enabled() {
		return
	}
	pattern := fmt.Sprintf("calendar:%s:*", studioID)
	if _, err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("calendar cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
