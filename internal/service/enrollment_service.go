package service

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

type enrollmentStore interface {
	ListStudentIDs(ctx context.Context, instanceID string) ([]string, error)
	Apply(ctx context.Context, instanceID string, add, remove []string) (*models.RosterChange, error)
	Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error)
}

// EnrollmentService keeps the roster of each class instance in line with the desired student list.
type EnrollmentService struct {
	classes   classFinder
	store     enrollmentStore
	notifier  Notifier
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(classes classFinder, store enrollmentStore, notifier Notifier, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		classes:   classes,
		store:     store,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Roster returns the enrolled student ids of an instance.
func (s *EnrollmentService) Roster(ctx context.Context, instanceID string, actor *models.JWTClaims) ([]string, error) {
	if _, err := s.loadInstance(ctx, instanceID, actor); err != nil {
		return nil, err
	}
	ids, err := s.store.ListStudentIDs(ctx, instanceID)
	if err != nil {
		return nil, storageError(err, "failed to load roster")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Reconcile makes the roster equal to the desired list. Students with recorded
// attendance are never removed; they come back as conflicts.
func (s *EnrollmentService) Reconcile(ctx context.Context, instanceID string, req dto.ReconcileRosterRequest, actor *models.JWTClaims) (*dto.ReconcileRosterResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid roster payload")
	}
	instance, err := s.loadInstance(ctx, instanceID, actor)
	if err != nil {
		return nil, err
	}

	current, err := s.store.ListStudentIDs(ctx, instanceID)
	if err != nil {
		return nil, storageError(err, "failed to load roster")
	}
	desired := uniqueStrings(req.StudentIDs)
	add, remove := diffRoster(current, desired)

	result := &dto.ReconcileRosterResult{
		ClassID:   instanceID,
		Added:     []string{},
		Removed:   []string{},
		Conflicts: []models.RosterConflict{},
	}
	if len(add) == 0 && len(remove) == 0 {
		result.Roster = sortedCopy(current)
		return result, nil
	}

	change, err := s.store.Apply(ctx, instanceID, add, remove)
	if err != nil {
		return nil, storageError(err, "failed to update roster")
	}
	if change.Added != nil {
		result.Added = change.Added
	}
	if change.Removed != nil {
		result.Removed = change.Removed
	}
	for _, studentID := range change.Locked {
		result.Conflicts = append(result.Conflicts, models.RosterConflict{
			StudentID: studentID,
			Reason:    models.RosterConflictAttendanceRecorded,
		})
	}
	// Desired students inserted concurrently are enrolled even though this
	// call did not add them.
	result.Roster = applyRoster(current, add, result.Removed)

	if len(result.Conflicts) > 0 {
		s.metrics.RecordRosterConflicts(len(result.Conflicts))
		s.logger.Info("roster removals skipped",
			zap.String("class_id", instanceID),
			zap.Strings("student_ids", change.Locked),
			zap.String("reason", models.RosterConflictAttendanceRecorded),
		)
	}

	if len(result.Added) == 0 && len(result.Removed) == 0 {
		return result, nil
	}
	s.writeAudit(ctx, actor, instanceID, current, result)
	if s.notifier != nil {
		s.notifier.Emit(ctx, models.NotificationEvent{
			Kind:     models.NotificationRosterChanged,
			ClassID:  instanceID,
			StudioID: instance.StudioID,
			Details: map[string]interface{}{
				"added":   result.Added,
				"removed": result.Removed,
			},
		})
	}
	return result, nil
}

// Seed enrolls students into freshly created instances.
func (s *EnrollmentService) Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error) {
	inserted, err := s.store.Seed(ctx, instanceIDs, uniqueStrings(studentIDs))
	if err != nil {
		return 0, storageError(err, "failed to seed roster")
	}
	s.logger.Debug("roster seeded", zap.Int("instances", len(instanceIDs)), zap.Int64("enrollments", inserted))
	return inserted, nil
}

func (s *EnrollmentService) loadInstance(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.ClassInstance, error) {
	instance, err := loadClass(ctx, s.classes, instanceID, actor)
	if err != nil {
		return nil, err
	}
	if instance.IsAnchor() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "series anchors have no roster; use a dated instance")
	}
	return instance, nil
}

func (s *EnrollmentService) writeAudit(ctx context.Context, actor *models.JWTClaims, instanceID string, before []string, result *dto.ReconcileRosterResult) {
	if s.audit == nil {
		return
	}
	oldValues, _ := json.Marshal(map[string]interface{}{"roster": before})
	newValues, _ := json.Marshal(map[string]interface{}{
		"added":     result.Added,
		"removed":   result.Removed,
		"conflicts": result.Conflicts,
	})
	entry := &models.AuditLog{
		StudioID:   actorStudioID(actor),
		UserID:     actorUserID(actor),
		Action:     models.AuditActionRosterSync,
		Resource:   classResource,
		ResourceID: &instanceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", entry.Action), zap.String("resource_id", instanceID), zap.Error(err))
	}
}

// diffRoster returns the ids to add and remove to turn current into desired.
func diffRoster(current, desired []string) (add, remove []string) {
	have := make(map[string]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			add = append(add, id)
		}
	}
	for _, id := range current {
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}
	return add, remove
}

func applyRoster(current, added, removed []string) []string {
	gone := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}
	roster := make([]string, 0, len(current)+len(added))
	for _, id := range current {
		if _, ok := gone[id]; !ok {
			roster = append(roster, id)
		}
	}
	roster = append(roster, added...)
	sort.Strings(roster)
	return roster
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
