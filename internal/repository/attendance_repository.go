package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/pkg/database"
)

// AttendanceRepository persists per-instance roster snapshots and attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// EnsureSnapshot copies the class roster into instance_enrollments when the
// instance has no snapshot yet. It returns the number of rows created.
func (r *AttendanceRepository) EnsureSnapshot(ctx context.Context, instanceID string) (int, error) {
	created := 0
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM instance_enrollments WHERE class_instance_id = $1`, instanceID); err != nil {
			return fmt.Errorf("count instance enrollments: %w", err)
		}
		if existing > 0 {
			return nil
		}

		var studentIDs []string
		if err := tx.SelectContext(ctx, &studentIDs, `SELECT student_id FROM enrollments WHERE class_instance_id = $1 ORDER BY student_id`, instanceID); err != nil {
			return fmt.Errorf("list enrollments for snapshot: %w", err)
		}

		now := time.Now().UTC()
		const insert = `INSERT INTO instance_enrollments (id, class_instance_id, student_id, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (class_instance_id, student_id) DO NOTHING`
		for _, studentID := range studentIDs {
			res, err := tx.ExecContext(ctx, insert, uuid.NewString(), instanceID, studentID, now)
			if err != nil {
				return fmt.Errorf("insert instance enrollment: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// ListRoster returns the snapshot joined with optional student details and any recorded attendance.
func (r *AttendanceRepository) ListRoster(ctx context.Context, instanceID string) ([]models.AttendanceRosterEntry, error) {
	const query = `SELECT ie.id AS instance_enrollment_id, ie.student_id,
	s.full_name AS student_name, s.emergency_contact, s.medical_notes, (s.id IS NOT NULL) AS detail_available,
	ar.status, ar.notes, ar.recorded_at
FROM instance_enrollments ie
LEFT JOIN students s ON s.id = ie.student_id
LEFT JOIN attendance_records ar ON ar.instance_enrollment_id = ie.id
WHERE ie.class_instance_id = $1
ORDER BY s.full_name NULLS LAST, ie.student_id`
	var entries []models.AttendanceRosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, instanceID); err != nil {
		return nil, fmt.Errorf("list attendance roster: %w", err)
	}
	return entries, nil
}

// FilterInstanceEnrollments returns which of ids belong to the instance's snapshot.
func (r *AttendanceRepository) FilterInstanceEnrollments(ctx context.Context, instanceID string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	const query = `SELECT id FROM instance_enrollments WHERE class_instance_id = $1 AND id = ANY($2)`
	var matched []string
	if err := r.db.SelectContext(ctx, &matched, query, instanceID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("filter instance enrollments: %w", err)
	}
	for _, id := range matched {
		found[id] = true
	}
	return found, nil
}

// Replace swaps the instance's attendance for records in one transaction.
func (r *AttendanceRepository) Replace(ctx context.Context, instanceID string, records []models.AttendanceRecord) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const clear = `DELETE FROM attendance_records WHERE instance_enrollment_id IN (SELECT id FROM instance_enrollments WHERE class_instance_id = $1)`
		if _, err := tx.ExecContext(ctx, clear, instanceID); err != nil {
			return fmt.Errorf("clear attendance records: %w", err)
		}

		const insert = `INSERT INTO attendance_records (instance_enrollment_id, status, notes, recorded_by, recorded_at)
VALUES (:instance_enrollment_id, :status, :notes, :recorded_by, :recorded_at)`
		for i := range records {
			if _, err := sqlx.NamedExecContext(ctx, tx, insert, &records[i]); err != nil {
				return fmt.Errorf("insert attendance record: %w", err)
			}
		}
		return nil
	})
}

// ListOverdue returns past instances with enrolled students, no attendance and no reminder yet.
func (r *AttendanceRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.OverdueAttendance, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT ci.id AS class_instance_id, ci.studio_id, ci.name, ci.teacher_id, ci.date, COUNT(e.student_id) AS enrolled_count
FROM class_instances ci
JOIN enrollments e ON e.class_instance_id = ci.id
WHERE ci.date < $1
	AND ci.attendance_reminded_at IS NULL
	AND NOT (ci.is_recurring AND ci.parent_class_id IS NULL)
	AND NOT EXISTS (
		SELECT 1 FROM instance_enrollments ie
		JOIN attendance_records ar ON ar.instance_enrollment_id = ie.id
		WHERE ie.class_instance_id = ci.id
	)
GROUP BY ci.id, ci.studio_id, ci.name, ci.teacher_id, ci.date
ORDER BY ci.date ASC
LIMIT $2`
	var rows []models.OverdueAttendance
	if err := r.db.SelectContext(ctx, &rows, query, models.DateOnly(cutoff), limit); err != nil {
		return nil, fmt.Errorf("list overdue attendance: %w", err)
	}
	return rows, nil
}
