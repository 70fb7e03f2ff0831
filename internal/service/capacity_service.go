package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

type bookingStore interface {
	classFinder
	IncrementBooked(ctx context.Context, id string) (*models.BookingCounter, error)
	DecrementBooked(ctx context.Context, id string) (*models.BookingCounter, error)
}

// CapacityService books and releases drop-in spots.
type CapacityService struct {
	store    bookingStore
	cache    *CacheService
	notifier Notifier
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewCapacityService constructs a CapacityService.
func NewCapacityService(store bookingStore, cache *CacheService, notifier Notifier, metrics *MetricsService, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{store: store, cache: cache, notifier: notifier, metrics: metrics, logger: logger}
}

// Availability reports capacity and spots remaining. SpotsRemaining is nil for unlimited classes.
func (s *CapacityService) Availability(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error) {
	instance, err := loadClass(ctx, s.store, instanceID, actor)
	if err != nil {
		return nil, err
	}
	return &models.Availability{
		ClassID:        instance.ID,
		IsDropIn:       instance.IsDropIn,
		Capacity:       instance.Capacity,
		BookedCount:    instance.BookedCount,
		SpotsRemaining: instance.SpotsRemaining(),
	}, nil
}

// Book takes one spot on a drop-in instance. A full class fails with CAPACITY_EXCEEDED.
func (s *CapacityService) Book(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error) {
	instance, err := s.bookable(ctx, instanceID, actor)
	if err != nil {
		s.metrics.RecordBooking(BookingResultRejected)
		return nil, err
	}

	counter, err := s.store.IncrementBooked(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.explainRejectedBooking(ctx, instance.ID, actor)
		}
		s.metrics.RecordBooking(BookingResultRejected)
		return nil, storageError(err, "failed to book class")
	}

	s.metrics.RecordBooking(BookingResultBooked)
	s.cache.InvalidateStudio(ctx, instance.StudioID)
	availability := counterAvailability(counter)
	if remaining := availability.SpotsRemaining; remaining != nil && *remaining == 0 && s.notifier != nil {
		s.notifier.Emit(ctx, models.NotificationEvent{
			Kind:     models.NotificationCapacityReached,
			ClassID:  instance.ID,
			StudioID: instance.StudioID,
			Details: map[string]interface{}{
				"capacity":     *counter.Capacity,
				"booked_count": counter.BookedCount,
				"date":         instance.Date.Format(dateLayout),
			},
		})
	}
	return availability, nil
}

// Release gives back one spot. Releasing with no bookings is a precondition failure.
func (s *CapacityService) Release(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error) {
	instance, err := s.bookable(ctx, instanceID, actor)
	if err != nil {
		return nil, err
	}

	counter, err := s.store.DecrementBooked(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class has no bookings to release")
		}
		return nil, storageError(err, "failed to release booking")
	}
	s.metrics.RecordBooking(BookingResultReleased)
	s.cache.InvalidateStudio(ctx, instance.StudioID)
	return counterAvailability(counter), nil
}

func (s *CapacityService) bookable(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.ClassInstance, error) {
	instance, err := loadClass(ctx, s.store, instanceID, actor)
	if err != nil {
		return nil, err
	}
	if instance.IsAnchor() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "series anchors cannot be booked; use a dated instance")
	}
	if !instance.IsDropIn {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class does not accept drop-in bookings")
	}
	return instance, nil
}

// explainRejectedBooking reloads the row after a failed conditional increment
// to tell a deleted or converted class apart from a full one.
func (s *CapacityService) explainRejectedBooking(ctx context.Context, instanceID string, actor *models.JWTClaims) error {
	instance, err := loadClass(ctx, s.store, instanceID, actor)
	if err != nil {
		s.metrics.RecordBooking(BookingResultRejected)
		return err
	}
	if !instance.IsDropIn {
		s.metrics.RecordBooking(BookingResultRejected)
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "class does not accept drop-in bookings")
	}
	s.metrics.RecordBooking(BookingResultFull)
	s.logger.Info("booking rejected, class full", zap.String("class_id", instanceID), zap.Int("booked_count", instance.BookedCount))
	return appErrors.Clone(appErrors.ErrCapacityExceeded, "class is fully booked")
}

func counterAvailability(counter *models.BookingCounter) *models.Availability {
	return &models.Availability{
		ClassID:        counter.ID,
		IsDropIn:       true,
		Capacity:       counter.Capacity,
		BookedCount:    counter.BookedCount,
		SpotsRemaining: counter.SpotsRemaining(),
	}
}
