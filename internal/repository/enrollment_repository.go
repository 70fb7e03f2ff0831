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

// EnrollmentRepository manages class rosters and their per-instance snapshots.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListStudentIDs returns the current roster of a class instance.
func (r *EnrollmentRepository) ListStudentIDs(ctx context.Context, instanceID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE class_instance_id = $1 ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, instanceID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return ids, nil
}

// Apply writes a roster diff in one transaction. Additions are idempotent.
// Removals skip students with recorded attendance for the instance; those are
// returned in RosterChange.Locked and stay enrolled.
func (r *EnrollmentRepository) Apply(ctx context.Context, instanceID string, add, remove []string) (*models.RosterChange, error) {
	change := &models.RosterChange{}
	now := time.Now().UTC()

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, studentID := range add {
			const insertEnrollment = `INSERT INTO enrollments (class_instance_id, student_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (class_instance_id, student_id) DO NOTHING`
			res, err := tx.ExecContext(ctx, insertEnrollment, instanceID, studentID, now)
			if err != nil {
				return fmt.Errorf("insert enrollment: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				change.Added = append(change.Added, studentID)
			}

			// Keep an existing attendance snapshot in step with the roster.
			const insertSnapshot = `INSERT INTO instance_enrollments (id, class_instance_id, student_id, created_at)
SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM instance_enrollments WHERE class_instance_id = $2)
ON CONFLICT (class_instance_id, student_id) DO NOTHING`
			if _, err := tx.ExecContext(ctx, insertSnapshot, uuid.NewString(), instanceID, studentID, now); err != nil {
				return fmt.Errorf("insert instance enrollment: %w", err)
			}
		}

		if len(remove) == 0 {
			return nil
		}

		const lockedQuery = `SELECT DISTINCT ie.student_id FROM instance_enrollments ie
JOIN attendance_records ar ON ar.instance_enrollment_id = ie.id
WHERE ie.class_instance_id = $1 AND ie.student_id = ANY($2)
ORDER BY ie.student_id`
		if err := tx.SelectContext(ctx, &change.Locked, lockedQuery, instanceID, pq.Array(remove)); err != nil {
			return fmt.Errorf("find locked enrollments: %w", err)
		}

		const deleteEnrollments = `DELETE FROM enrollments e
WHERE e.class_instance_id = $1 AND e.student_id = ANY($2)
AND NOT EXISTS (
	SELECT 1 FROM instance_enrollments ie
	JOIN attendance_records ar ON ar.instance_enrollment_id = ie.id
	WHERE ie.class_instance_id = e.class_instance_id AND ie.student_id = e.student_id
)
RETURNING e.student_id`
		if err := tx.SelectContext(ctx, &change.Removed, deleteEnrollments, instanceID, pq.Array(remove)); err != nil {
			return fmt.Errorf("delete enrollments: %w", err)
		}

		const deleteSnapshots = `DELETE FROM instance_enrollments ie
WHERE ie.class_instance_id = $1 AND ie.student_id = ANY($2)
AND NOT EXISTS (SELECT 1 FROM attendance_records ar WHERE ar.instance_enrollment_id = ie.id)`
		if _, err := tx.ExecContext(ctx, deleteSnapshots, instanceID, pq.Array(remove)); err != nil {
			return fmt.Errorf("delete instance enrollments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// Seed enrolls every student into every listed instance. Existing pairs are kept.
func (r *EnrollmentRepository) Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error) {
	if len(instanceIDs) == 0 || len(studentIDs) == 0 {
		return 0, nil
	}
	const query = `INSERT INTO enrollments (class_instance_id, student_id, created_at)
SELECT i, s, $3 FROM unnest($1::uuid[]) AS i CROSS JOIN unnest($2::text[]) AS s
ON CONFLICT (class_instance_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, pq.Array(instanceIDs), pq.Array(studentIDs), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("seed enrollments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("seed enrollments rows affected: %w", err)
	}
	return affected, nil
}
