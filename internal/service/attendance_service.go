package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
	"github.com/noah-isme/studio-ops-api/pkg/export"
)

const overdueBatchSize = 200

type attendanceStore interface {
	EnsureSnapshot(ctx context.Context, instanceID string) (int, error)
	ListRoster(ctx context.Context, instanceID string) ([]models.AttendanceRosterEntry, error)
	FilterInstanceEnrollments(ctx context.Context, instanceID string, ids []string) (map[string]bool, error)
	Replace(ctx context.Context, instanceID string, records []models.AttendanceRecord) error
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.OverdueAttendance, error)
}

type reminderMarker interface {
	MarkAttendanceReminded(ctx context.Context, ids []string, at time.Time) error
}

// AttendanceService records attendance against per-instance roster snapshots.
type AttendanceService struct {
	classes   classFinder
	store     attendanceStore
	reminders reminderMarker
	notifier  Notifier
	audit     auditLogger
	deadline  time.Duration
	clock     Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// AttendanceConfig tunes the overdue sweep.
type AttendanceConfig struct {
	Deadline time.Duration
	Clock    Clock
}

// NewAttendanceService constructs an AttendanceService.
func NewAttendanceService(classes classFinder, store attendanceStore, reminders reminderMarker, notifier Notifier, audit auditLogger, cfg AttendanceConfig, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = StudioClock(time.UTC)
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 48 * time.Hour
	}
	return &AttendanceService{
		classes:   classes,
		store:     store,
		reminders: reminders,
		notifier:  notifier,
		audit:     audit,
		deadline:  cfg.Deadline,
		clock:     cfg.Clock,
		validator: validate,
		logger:    logger,
	}
}

// Roster returns the attendance roster of an instance, creating the snapshot on first access.
func (s *AttendanceService) Roster(ctx context.Context, instanceID string, actor *models.JWTClaims) ([]models.AttendanceRosterEntry, error) {
	if _, err := s.loadInstance(ctx, instanceID, actor); err != nil {
		return nil, err
	}
	return s.roster(ctx, instanceID)
}

func (s *AttendanceService) roster(ctx context.Context, instanceID string) ([]models.AttendanceRosterEntry, error) {
	created, err := s.store.EnsureSnapshot(ctx, instanceID)
	if err != nil {
		return nil, storageError(err, "failed to prepare attendance roster")
	}
	if created > 0 {
		s.logger.Debug("attendance snapshot created", zap.String("class_id", instanceID), zap.Int("students", created))
	}
	entries, err := s.store.ListRoster(ctx, instanceID)
	if err != nil {
		return nil, storageError(err, "failed to load attendance roster")
	}
	if entries == nil {
		entries = []models.AttendanceRosterEntry{}
	}
	return entries, nil
}

// Save replaces the attendance of an instance with the submitted items.
// Students missing from the payload end with no record.
func (s *AttendanceService) Save(ctx context.Context, instanceID string, req dto.SaveAttendanceRequest, actor *models.JWTClaims) (*dto.AttendanceSaveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid attendance payload")
	}
	if _, err := s.loadInstance(ctx, instanceID, actor); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.InstanceEnrollmentID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("instance enrollment %s appears more than once", item.InstanceEnrollmentID))
		}
		seen[item.InstanceEnrollmentID] = struct{}{}
		ids = append(ids, item.InstanceEnrollmentID)
	}

	if _, err := s.store.EnsureSnapshot(ctx, instanceID); err != nil {
		return nil, storageError(err, "failed to prepare attendance roster")
	}
	found, err := s.store.FilterInstanceEnrollments(ctx, instanceID, ids)
	if err != nil {
		return nil, storageError(err, "failed to verify attendance roster")
	}
	var unknown []string
	for _, id := range ids {
		if !found[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("instance enrollments not on this class roster: %s", strings.Join(unknown, ", ")))
	}

	now := s.clock().UTC()
	records := make([]models.AttendanceRecord, 0, len(req.Items))
	for _, item := range req.Items {
		records = append(records, models.AttendanceRecord{
			InstanceEnrollmentID: item.InstanceEnrollmentID,
			Status:               models.ParseAttendanceStatus(item.Status),
			Notes:                item.Notes,
			RecordedBy:           actorUserID(actor),
			RecordedAt:           now,
		})
	}
	if err := s.store.Replace(ctx, instanceID, records); err != nil {
		return nil, storageError(err, "failed to save attendance")
	}
	s.writeAudit(ctx, actor, instanceID, records)

	entries, err := s.store.ListRoster(ctx, instanceID)
	if err != nil {
		return nil, storageError(err, "failed to load attendance roster")
	}
	if entries == nil {
		entries = []models.AttendanceRosterEntry{}
	}
	return &dto.AttendanceSaveResult{ClassID: instanceID, Saved: len(records), Roster: entries}, nil
}

// Export renders the attendance register of an instance as CSV or PDF.
func (s *AttendanceService) Export(ctx context.Context, instanceID, format string, actor *models.JWTClaims) (*dto.AttendanceExport, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	instance, err := s.loadInstance(ctx, instanceID, actor)
	if err != nil {
		return nil, err
	}
	entries, err := s.roster(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	content, err := exporter.Render(attendanceDataset(*instance, entries))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance export")
	}
	return &dto.AttendanceExport{
		Filename:    fmt.Sprintf("attendance-%s-%s.%s", instance.Date.Format(dateLayout), instance.ID, exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}

// SweepOverdue emits attendance_overdue for past instances without attendance
// and marks them so each instance is reminded once. It returns the number reminded.
func (s *AttendanceService) SweepOverdue(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	cutoff := now.Add(-s.deadline)
	overdue, err := s.store.ListOverdue(ctx, cutoff, overdueBatchSize)
	if err != nil {
		return 0, storageError(err, "failed to list overdue attendance")
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(overdue))
	for _, item := range overdue {
		ids = append(ids, item.ClassInstanceID)
	}
	if err := s.reminders.MarkAttendanceReminded(ctx, ids, now); err != nil {
		return 0, storageError(err, "failed to mark attendance reminders")
	}

	for _, item := range overdue {
		if s.notifier == nil {
			break
		}
		s.notifier.Emit(ctx, models.NotificationEvent{
			Kind:     models.NotificationAttendanceOverdue,
			ClassID:  item.ClassInstanceID,
			StudioID: item.StudioID,
			Details: map[string]interface{}{
				"name":           item.Name,
				"teacher_id":     item.TeacherID,
				"date":           item.Date.Format(dateLayout),
				"enrolled_count": item.EnrolledCount,
			},
		})
	}
	s.logger.Info("attendance reminders sent", zap.Int("count", len(overdue)), zap.Time("cutoff", cutoff))
	return len(overdue), nil
}

func (s *AttendanceService) loadInstance(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.ClassInstance, error) {
	instance, err := loadClass(ctx, s.classes, instanceID, actor)
	if err != nil {
		return nil, err
	}
	if instance.IsAnchor() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "series anchors have no attendance; use a dated instance")
	}
	return instance, nil
}

func (s *AttendanceService) writeAudit(ctx context.Context, actor *models.JWTClaims, instanceID string, records []models.AttendanceRecord) {
	if s.audit == nil {
		return
	}
	newValues, _ := json.Marshal(map[string]interface{}{"records": records})
	entry := &models.AuditLog{
		StudioID:   actorStudioID(actor),
		UserID:     actorUserID(actor),
		Action:     models.AuditActionAttendance,
		Resource:   classResource,
		ResourceID: &instanceID,
		NewValues:  newValues,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", entry.Action), zap.String("resource_id", instanceID), zap.Error(err))
	}
}

func attendanceDataset(instance models.ClassInstance, entries []models.AttendanceRosterEntry) export.Dataset {
	data := export.Dataset{
		Title: instance.Name,
		Meta: []string{
			fmt.Sprintf("Date: %s %s-%s", instance.Date.Format(dateLayout), instance.StartTime, instance.EndTime),
			fmt.Sprintf("Teacher: %s", instance.TeacherID),
			fmt.Sprintf("Location: %s", instance.LocationID),
		},
		Headers: []string{"Student ID", "Student", "Emergency Contact", "Status", "Notes", "Recorded At"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, entry := range entries {
		row := []string{entry.StudentID, "(no record)", "", "", "", ""}
		if entry.DetailAvailable {
			row[1] = deref(entry.StudentName)
			row[2] = deref(entry.EmergencyContact)
		}
		if entry.Status != nil {
			row[3] = string(*entry.Status)
		}
		row[4] = deref(entry.Notes)
		if entry.RecordedAt != nil {
			row[5] = entry.RecordedAt.UTC().Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
