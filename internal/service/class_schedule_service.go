package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/internal/repository"
	"github.com/noah-isme/studio-ops-api/pkg/database"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

const (
	classResource = "class_instance"
	dateLayout    = "2006-01-02"
	timeLayout    = "15:04"
)

type classInstanceStore interface {
	classFinder
	ListSeries(ctx context.Context, rootID string) ([]models.ClassInstance, error)
	ListCalendar(ctx context.Context, filter models.CalendarFilter) ([]models.ClassInstance, int, error)
	CreateSeries(ctx context.Context, rows []models.ClassInstance) error
	UpdateSelection(ctx context.Context, sel models.Selection, patch models.ClassPatch, guard repository.SelectionGuard) ([]models.ClassInstance, error)
	DeleteSelection(ctx context.Context, sel models.Selection) ([]models.ClassInstance, error)
}

type rosterSeeder interface {
	Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error)
}

// ClassScheduleConfig tunes recurrence expansion.
type ClassScheduleConfig struct {
	Clock              Clock
	MaxRecurrenceWeeks int
}

// ClassScheduleService creates classes, expands weekly series and applies scoped edits and deletes.
type ClassScheduleService struct {
	store     classInstanceStore
	seeder    rosterSeeder
	cache     *CacheService
	notifier  Notifier
	audit     auditLogger
	metrics   *MetricsService
	clock     Clock
	maxWeeks  int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassScheduleService builds a ClassScheduleService with sane defaults.
func NewClassScheduleService(
	store classInstanceStore,
	seeder rosterSeeder,
	cache *CacheService,
	notifier Notifier,
	audit auditLogger,
	metrics *MetricsService,
	cfg ClassScheduleConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *ClassScheduleService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = StudioClock(time.UTC)
	}
	return &ClassScheduleService{
		store:     store,
		seeder:    seeder,
		cache:     cache,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		clock:     cfg.Clock,
		maxWeeks:  cfg.MaxRecurrenceWeeks,
		validator: validate,
		logger:    logger,
	}
}

// Create schedules a one-off class or a weekly series. For a series, the
// anchor and every expanded instance are written in one transaction.
func (s *ClassScheduleService) Create(ctx context.Context, req dto.CreateClassRequest, actor *models.JWTClaims) (*dto.CreateClassResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid class payload")
	}
	studioID := actorStudioID(actor)
	if studioID == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "studio context required")
	}
	if err := validateTimes(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := validateDropIn(req.IsDropIn, req.Capacity, req.DropInPrice); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	base := models.ClassInstance{
		StudioID:    studioID,
		Name:        strings.TrimSpace(req.Name),
		TeacherID:   req.TeacherID,
		LocationID:  req.LocationID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsDropIn:    req.IsDropIn,
		Capacity:    req.Capacity,
		DropInPrice: req.DropInPrice,
		Status:      models.ClassStatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var (
		rows   []models.ClassInstance
		result = &dto.CreateClassResult{}
	)
	if req.IsRecurring {
		series, err := s.expandSeries(base, req)
		if err != nil {
			return nil, err
		}
		rows = series
		anchorID := series[0].ID
		result.AnchorID = &anchorID
		for _, row := range series[1:] {
			result.InstanceIDs = append(result.InstanceIDs, row.ID)
		}
	} else {
		if req.Date == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date is required for one-off classes")
		}
		day, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		single := base
		single.ID = uuid.NewString()
		single.Date = day
		single.EndDate = day
		rows = []models.ClassInstance{single}
		result.InstanceIDs = []string{single.ID}
	}

	if err := s.store.CreateSeries(ctx, rows); err != nil {
		return nil, storageError(err, "failed to create class")
	}
	rootID := rows[0].ID
	s.metrics.RecordInstancesCreated(len(result.InstanceIDs))
	s.cache.InvalidateStudio(ctx, studioID)
	s.emitAudit(ctx, actor, models.AuditActionClassCreate, rootID, nil, map[string]interface{}{
		"name":         base.Name,
		"teacher_id":   base.TeacherID,
		"location_id":  base.LocationID,
		"is_recurring": req.IsRecurring,
		"instance_ids": result.InstanceIDs,
	})

	if students := uniqueStrings(req.StudentIDs); len(students) > 0 {
		if s.seeder == nil {
			result.Warnings = append(result.Warnings, "roster seeding unavailable; submit the roster separately")
		} else if _, err := s.seeder.Seed(ctx, result.InstanceIDs, students); err != nil {
			s.logger.Warn("roster seeding failed", zap.String("class_id", rootID), zap.Error(err))
			result.Warnings = append(result.Warnings, "class created but roster seeding failed; submit the roster again")
		} else {
			result.RosterSeeded = true
		}
	}

	s.emit(ctx, models.NotificationEvent{
		Kind:     models.NotificationScheduleChanged,
		ClassID:  rootID,
		StudioID: studioID,
		Details:  map[string]interface{}{"action": "created", "instance_ids": result.InstanceIDs},
	})
	s.emit(ctx, models.NotificationEvent{
		Kind:     models.NotificationTeacherAssigned,
		ClassID:  rootID,
		StudioID: studioID,
		Details:  map[string]interface{}{"teacher_id": base.TeacherID, "instance_ids": result.InstanceIDs},
	})
	return result, nil
}

// expandSeries returns the anchor followed by one row per expanded date.
func (s *ClassScheduleService) expandSeries(base models.ClassInstance, req dto.CreateClassRequest) ([]models.ClassInstance, error) {
	if req.Weekday == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "weekday is required for recurring classes")
	}
	if req.EndDate == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date is required for recurring classes")
	}
	until, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be YYYY-MM-DD")
	}

	dates := ExpandWeekly(time.Weekday(*req.Weekday), s.clock(), until)
	if len(dates) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurrence produces no dates on or before end_date")
	}
	if s.maxWeeks > 0 && len(dates) > s.maxWeeks {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("recurrence spans %d weeks, limit is %d", len(dates), s.maxWeeks))
	}

	weekday := *req.Weekday
	anchor := base
	anchor.ID = uuid.NewString()
	anchor.IsRecurring = true
	anchor.Weekday = &weekday
	anchor.Date = dates[0]
	anchor.EndDate = models.DateOnly(until)

	rows := make([]models.ClassInstance, 0, len(dates)+1)
	rows = append(rows, anchor)
	for _, day := range dates {
		instance := base
		instance.ID = uuid.NewString()
		instance.ParentClassID = &anchor.ID
		instance.IsRecurring = true
		instance.Weekday = &weekday
		instance.Date = day
		instance.EndDate = day
		rows = append(rows, instance)
	}
	return rows, nil
}

// Update applies an edit to the rows selected by scope. Plain classes ignore scope.
func (s *ClassScheduleService) Update(ctx context.Context, id string, req dto.UpdateClassRequest, actor *models.JWTClaims) (*dto.ScopedMutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid class payload")
	}
	if err := validateTimes(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := validateDropIn(req.IsDropIn, req.Capacity, req.DropInPrice); err != nil {
		return nil, err
	}

	target, err := loadClass(ctx, s.store, id, actor)
	if err != nil {
		return nil, err
	}
	sel, err := selectionFor(*target, req.Scope)
	if err != nil {
		return nil, err
	}

	patch := models.ClassPatch{
		Name:        strings.TrimSpace(req.Name),
		TeacherID:   req.TeacherID,
		LocationID:  req.LocationID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsDropIn:    req.IsDropIn,
		Capacity:    req.Capacity,
		DropInPrice: req.DropInPrice,
		UpdatedAt:   s.clock().UTC(),
	}

	previous, err := s.store.UpdateSelection(ctx, sel, patch, capacityGuard(req.Capacity, req.IsDropIn))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		case database.IsCheckViolation(err):
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "capacity is below existing bookings")
		default:
			return nil, storageError(err, "failed to update class")
		}
	}

	result := mutationResult(sel.Scope, previous)
	s.metrics.RecordScopedMutation("update", sel.Scope, result.Count)
	s.cache.InvalidateStudio(ctx, target.StudioID)
	s.emitAudit(ctx, actor, models.AuditActionClassUpdate, target.ID, previous, map[string]interface{}{
		"scope":        sel.Scope,
		"affected_ids": result.AffectedIDs,
		"name":         patch.Name,
		"teacher_id":   patch.TeacherID,
		"location_id":  patch.LocationID,
		"start_time":   patch.StartTime,
		"end_time":     patch.EndTime,
		"capacity":     patch.Capacity,
	})

	s.emit(ctx, models.NotificationEvent{
		Kind:     models.NotificationScheduleChanged,
		ClassID:  target.ID,
		StudioID: target.StudioID,
		Details:  map[string]interface{}{"action": "updated", "scope": sel.Scope, "affected_ids": result.AffectedIDs},
	})
	if reassigned := reassignedIDs(previous, patch.TeacherID); len(reassigned) > 0 {
		s.emit(ctx, models.NotificationEvent{
			Kind:     models.NotificationTeacherAssigned,
			ClassID:  target.ID,
			StudioID: target.StudioID,
			Details:  map[string]interface{}{"teacher_id": patch.TeacherID, "instance_ids": reassigned},
		})
	}
	return result, nil
}

// Delete removes the rows selected by scope. Recurring rows require a scope.
func (s *ClassScheduleService) Delete(ctx context.Context, id string, scope models.Scope, actor *models.JWTClaims) (*dto.ScopedMutationResult, error) {
	if scope != "" && !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scope must be one of single, future, all")
	}
	target, err := loadClass(ctx, s.store, id, actor)
	if err != nil {
		return nil, err
	}
	// Instances reference the anchor with ON DELETE CASCADE, so removing the
	// anchor always removes the whole series.
	if target.IsAnchor() && scope != models.ScopeAll {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a series anchor can only be deleted with scope all")
	}
	sel, err := selectionFor(*target, scope)
	if err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteSelection(ctx, sel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, storageError(err, "failed to delete class")
	}

	result := mutationResult(sel.Scope, deleted)
	s.metrics.RecordScopedMutation("delete", sel.Scope, result.Count)
	s.cache.InvalidateStudio(ctx, target.StudioID)
	s.emitAudit(ctx, actor, models.AuditActionClassDelete, target.ID, deleted, map[string]interface{}{
		"scope":        sel.Scope,
		"affected_ids": result.AffectedIDs,
	})
	s.emit(ctx, models.NotificationEvent{
		Kind:     models.NotificationScheduleChanged,
		ClassID:  target.ID,
		StudioID: target.StudioID,
		Details:  map[string]interface{}{"action": "deleted", "scope": sel.Scope, "affected_ids": result.AffectedIDs},
	})
	return result, nil
}

// Get returns a single class row.
func (s *ClassScheduleService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ClassInstance, error) {
	return loadClass(ctx, s.store, id, actor)
}

// GetSeries returns the series a recurring row belongs to.
func (s *ClassScheduleService) GetSeries(ctx context.Context, id string, actor *models.JWTClaims) (*models.Series, error) {
	target, err := loadClass(ctx, s.store, id, actor)
	if err != nil {
		return nil, err
	}
	if !target.IsRecurring {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class is not part of a recurring series")
	}

	rootID := target.SeriesRootID()
	rows, err := s.store.ListSeries(ctx, rootID)
	if err != nil {
		return nil, storageError(err, "failed to load series")
	}
	for _, row := range rows {
		if row.ID == rootID {
			return models.NewSeries(row, rows), nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "series anchor not found")
}

// ListCalendar returns dated instances for the actor's studio. The second
// return value reports whether the page came from cache.
func (s *ClassScheduleService) ListCalendar(ctx context.Context, query dto.CalendarQuery, actor *models.JWTClaims) ([]models.ClassInstance, *models.Pagination, bool, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, false, invalidPayload(err, "invalid calendar query")
	}
	filter := models.CalendarFilter{
		StudioID:   actorStudioID(actor),
		TeacherID:  query.TeacherID,
		LocationID: query.LocationID,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	if filter.StudioID == "" {
		return nil, nil, false, appErrors.Clone(appErrors.ErrForbidden, "studio context required")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	if query.From != "" {
		from, _ := time.Parse(dateLayout, query.From)
		filter.From = &from
	}
	if query.To != "" {
		to, _ := time.Parse(dateLayout, query.To)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, false, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	if page, hit := s.cache.GetCalendar(ctx, filter); hit {
		return page.Items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: page.Total}, true, nil
	}

	items, total, err := s.store.ListCalendar(ctx, filter)
	if err != nil {
		return nil, nil, false, storageError(err, "failed to list classes")
	}
	if items == nil {
		items = []models.ClassInstance{}
	}
	s.cache.PutCalendar(ctx, filter, CalendarPage{Items: items, Total: total})
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, false, nil
}

func selectionFor(target models.ClassInstance, scope models.Scope) (models.Selection, error) {
	if !target.IsRecurring {
		return models.SelectOne(target.ID), nil
	}
	if scope == "" {
		return models.Selection{}, appErrors.Clone(appErrors.ErrValidation, "scope is required for recurring classes")
	}
	return ResolveScope(target, scope)
}

// capacityGuard rejects edits that would strand existing bookings: a capacity
// below the booked count, or turning drop-ins off while spots are booked.
func capacityGuard(capacity *int, isDropIn bool) repository.SelectionGuard {
	return func(rows []models.ClassInstance) error {
		for _, row := range rows {
			if !isDropIn && row.BookedCount > 0 {
				return appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("drop-ins cannot be disabled while %d bookings exist on %s", row.BookedCount, row.Date.Format(dateLayout)))
			}
			if capacity != nil && row.BookedCount > *capacity {
				return appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("capacity %d is below the %d bookings on %s", *capacity, row.BookedCount, row.Date.Format(dateLayout)))
			}
		}
		return nil
	}
}

func mutationResult(scope models.Scope, rows []models.ClassInstance) *dto.ScopedMutationResult {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return &dto.ScopedMutationResult{Scope: scope, AffectedIDs: ids, Count: len(ids)}
}

func reassignedIDs(previous []models.ClassInstance, teacherID string) []string {
	var ids []string
	for _, row := range previous {
		if row.TeacherID != teacherID {
			ids = append(ids, row.ID)
		}
	}
	return ids
}

func validateTimes(start, end string) error {
	startAt, err := time.Parse(timeLayout, start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	endAt, err := time.Parse(timeLayout, end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}
	if !endAt.After(startAt) {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return nil
}

func validateDropIn(isDropIn bool, capacity *int, price *float64) error {
	if !isDropIn && (capacity != nil || price != nil) {
		return appErrors.Clone(appErrors.ErrValidation, "capacity and drop_in_price apply to drop-in classes only")
	}
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *ClassScheduleService) emit(ctx context.Context, event models.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(ctx, event)
}

func (s *ClassScheduleService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, before []models.ClassInstance, after map[string]interface{}) {
	if s.audit == nil {
		return
	}
	var oldValues []byte
	if len(before) > 0 {
		oldValues, _ = json.Marshal(before)
	}
	newValues, _ := json.Marshal(after)
	entry := &models.AuditLog{
		StudioID:   actorStudioID(actor),
		UserID:     actorUserID(actor),
		Action:     action,
		Resource:   classResource,
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
