package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/pkg/jobs"
	"github.com/noah-isme/studio-ops-api/pkg/middleware/requestid"
)

// NotificationJobType tags notification jobs on the shared queue.
const NotificationJobType = "notification"

// Notification delivery results recorded in metrics.
const (
	notificationQueued    = "queued"
	notificationPublished = "published"
	notificationDropped   = "dropped"
	notificationFailed    = "failed"
	notificationDisabled  = "disabled"
)

// Notifier is implemented by NotificationService and consumed by domain services.
type Notifier interface {
	Emit(ctx context.Context, event models.NotificationEvent)
}

// NotificationPublisher delivers a single event to subscribers.
type NotificationPublisher interface {
	Publish(ctx context.Context, event models.NotificationEvent) (int64, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationService emits events after committed changes. Delivery is
// fire-and-forget: failures are logged and counted, never returned.
type NotificationService struct {
	queue     jobEnqueuer
	publisher NotificationPublisher
	metrics   *MetricsService
	logger    *zap.Logger
	enabled   bool
	now       func() time.Time
}

// NewNotificationService constructs the service. With a nil queue, events are
// published inline, which suits short-lived commands.
func NewNotificationService(queue jobEnqueuer, publisher NotificationPublisher, metrics *MetricsService, logger *zap.Logger, enabled bool) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		queue:     queue,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		enabled:   enabled,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Emit schedules event for delivery.
func (s *NotificationService) Emit(ctx context.Context, event models.NotificationEvent) {
	if s == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.RequestID == "" {
		event.RequestID = requestid.FromContext(ctx)
	}

	log := s.logger.With(
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("class_id", event.ClassID),
	)

	if !s.enabled {
		s.metrics.RecordNotification(event.Kind, notificationDisabled)
		log.Debug("notification skipped, delivery disabled")
		return
	}

	if s.queue == nil {
		s.deliver(context.WithoutCancel(ctx), event, log)
		return
	}

	if err := s.queue.Enqueue(jobs.Job{ID: event.ID, Type: NotificationJobType, Payload: event}); err != nil {
		s.metrics.RecordNotification(event.Kind, notificationDropped)
		log.Warn("notification not queued", zap.Error(err))
		return
	}
	s.metrics.RecordNotification(event.Kind, notificationQueued)
}

// HandleJob is the queue handler publishing notification jobs.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	if s.publisher == nil {
		return fmt.Errorf("no notification publisher configured")
	}
	receivers, err := s.publisher.Publish(ctx, event)
	if err != nil {
		return err
	}
	s.metrics.RecordNotification(event.Kind, notificationPublished)
	s.logger.Debug("notification published", zap.String("event_id", event.ID), zap.Int64("receivers", receivers))
	return nil
}

// OnDrop records jobs the queue gave up on.
func (s *NotificationService) OnDrop(job jobs.Job, err error) {
	event, _ := job.Payload.(models.NotificationEvent)
	s.metrics.RecordNotification(event.Kind, notificationFailed)
	s.logger.Error("notification delivery failed", zap.String("event_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}

func (s *NotificationService) deliver(ctx context.Context, event models.NotificationEvent, log *zap.Logger) {
	if s.publisher == nil {
		s.metrics.RecordNotification(event.Kind, notificationDropped)
		log.Warn("notification dropped, no publisher configured")
		return
	}
	if _, err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.RecordNotification(event.Kind, notificationFailed)
		log.Warn("notification publish failed", zap.Error(err))
		return
	}
	s.metrics.RecordNotification(event.Kind, notificationPublished)
}
