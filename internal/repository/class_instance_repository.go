package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/pkg/database"
)

const classInstanceColumns = `id, studio_id, parent_class_id, name, teacher_id, location_id, date, end_date, start_time, end_time, weekday, is_recurring, is_drop_in, capacity, drop_in_price, booked_count, status, attendance_reminded_at, created_at, updated_at`

// ClassInstanceRepository persists scheduled classes and recurring series.
type ClassInstanceRepository struct {
	db *sqlx.DB
}

// NewClassInstanceRepository constructs the repository.
func NewClassInstanceRepository(db *sqlx.DB) *ClassInstanceRepository {
	return &ClassInstanceRepository{db: db}
}

// FindByID returns a single row or sql.ErrNoRows.
func (r *ClassInstanceRepository) FindByID(ctx context.Context, id string) (*models.ClassInstance, error) {
	query := `SELECT ` + classInstanceColumns + ` FROM class_instances WHERE id = $1`
	var instance models.ClassInstance
	if err := r.db.GetContext(ctx, &instance, query, id); err != nil {
		return nil, err
	}
	return &instance, nil
}

// ListSeries returns the anchor and every instance of a series, anchor first.
func (r *ClassInstanceRepository) ListSeries(ctx context.Context, rootID string) ([]models.ClassInstance, error) {
	query := `SELECT ` + classInstanceColumns + ` FROM class_instances WHERE id = $1 OR parent_class_id = $1 ORDER BY parent_class_id NULLS FIRST, date ASC`
	var rows []models.ClassInstance
	if err := r.db.SelectContext(ctx, &rows, query, rootID); err != nil {
		return nil, fmt.Errorf("list class series: %w", err)
	}
	return rows, nil
}

// ListCalendar returns dated occurrences for a studio. Series anchors are excluded.
func (r *ClassInstanceRepository) ListCalendar(ctx context.Context, filter models.CalendarFilter) ([]models.ClassInstance, int, error) {
	conditions := []string{"studio_id = $1", "NOT (is_recurring AND parent_class_id IS NULL)"}
	args := []interface{}{filter.StudioID}

	if filter.From != nil {
		args = append(args, models.DateOnly(*filter.From))
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, models.DateOnly(*filter.To))
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM class_instances`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count class instances: %w", err)
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM class_instances%s ORDER BY date ASC, start_time ASC, id ASC LIMIT $%d OFFSET $%d`,
		classInstanceColumns, where, len(args)-1, len(args))

	var rows []models.ClassInstance
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list class instances: %w", err)
	}
	return rows, total, nil
}

const insertClassInstanceQuery = `
INSERT INTO class_instances (id, studio_id, parent_class_id, name, teacher_id, location_id, date, end_date, start_time, end_time, weekday, is_recurring, is_drop_in, capacity, drop_in_price, booked_count, status, created_at, updated_at)
VALUES (:id, :studio_id, :parent_class_id, :name, :teacher_id, :location_id, :date, :end_date, :start_time, :end_time, :weekday, :is_recurring, :is_drop_in, :capacity, :drop_in_price, :booked_count, :status, :created_at, :updated_at)`

// CreateSeries inserts all rows in one transaction. Either every row lands or none does.
func (r *ClassInstanceRepository) CreateSeries(ctx context.Context, rows []models.ClassInstance) error {
	if len(rows) == 0 {
		return fmt.Errorf("no class instances to insert")
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i := range rows {
			if _, err := sqlx.NamedExecContext(ctx, tx, insertClassInstanceQuery, &rows[i]); err != nil {
				return fmt.Errorf("insert class instance: %w", err)
			}
		}
		return nil
	})
}

// SelectionGuard inspects locked rows before a scoped write proceeds.
type SelectionGuard func(rows []models.ClassInstance) error

// UpdateSelection locks the selected rows, runs guard, then applies patch to all
// of them in the same transaction. It returns the rows as they were before the
// update, or sql.ErrNoRows when nothing matched.
func (r *ClassInstanceRepository) UpdateSelection(ctx context.Context, sel models.Selection, patch models.ClassPatch, guard SelectionGuard) ([]models.ClassInstance, error) {
	var locked []models.ClassInstance
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := r.lockSelection(ctx, tx, sel)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(rows); err != nil {
				return err
			}
		}

		const query = `UPDATE class_instances SET name = $1, teacher_id = $2, location_id = $3, start_time = $4, end_time = $5, is_drop_in = $6, capacity = $7, drop_in_price = $8, updated_at = $9 WHERE id = ANY($10)`
		if _, err := tx.ExecContext(ctx, query,
			patch.Name, patch.TeacherID, patch.LocationID, patch.StartTime, patch.EndTime,
			patch.IsDropIn, patch.Capacity, patch.DropInPrice, patch.UpdatedAt, pq.Array(instanceIDs(rows)),
		); err != nil {
			return fmt.Errorf("update class instances: %w", err)
		}
		locked = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// DeleteSelection locks and removes the selected rows in one transaction.
// Enrollments, snapshots and attendance cascade with their instance.
func (r *ClassInstanceRepository) DeleteSelection(ctx context.Context, sel models.Selection) ([]models.ClassInstance, error) {
	var deleted []models.ClassInstance
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := r.lockSelection(ctx, tx, sel)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM class_instances WHERE id = ANY($1)`, pq.Array(instanceIDs(rows))); err != nil {
			return fmt.Errorf("delete class instances: %w", err)
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *ClassInstanceRepository) lockSelection(ctx context.Context, tx *sqlx.Tx, sel models.Selection) ([]models.ClassInstance, error) {
	predicate, args, err := selectionPredicate(sel)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + classInstanceColumns + ` FROM class_instances WHERE ` + predicate + ` ORDER BY date ASC, id ASC FOR UPDATE`
	var rows []models.ClassInstance
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("lock class selection: %w", err)
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows, nil
}

// selectionPredicate renders Selection.Matches as SQL.
func selectionPredicate(sel models.Selection) (string, []interface{}, error) {
	switch sel.Scope {
	case models.ScopeSingle:
		return "id = $1", []interface{}{sel.TargetID}, nil
	case models.ScopeFuture:
		return "(id = $1 OR parent_class_id = $1) AND date >= $2", []interface{}{sel.RootID, models.DateOnly(sel.FromDate)}, nil
	case models.ScopeAll:
		return "(id = $1 OR parent_class_id = $1)", []interface{}{sel.RootID}, nil
	default:
		return "", nil, fmt.Errorf("unsupported scope %q", sel.Scope)
	}
}

// IncrementBooked takes one drop-in spot when one is free. It returns
// sql.ErrNoRows when the row is missing, not a drop-in or already full.
func (r *ClassInstanceRepository) IncrementBooked(ctx context.Context, id string) (*models.BookingCounter, error) {
	const query = `UPDATE class_instances SET booked_count = booked_count + 1, updated_at = $2
WHERE id = $1 AND is_drop_in AND (capacity IS NULL OR booked_count < capacity)
RETURNING id, booked_count, capacity`
	var counter models.BookingCounter
	if err := r.db.GetContext(ctx, &counter, query, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &counter, nil
}

// DecrementBooked releases one spot, never dropping below zero.
func (r *ClassInstanceRepository) DecrementBooked(ctx context.Context, id string) (*models.BookingCounter, error) {
	const query = `UPDATE class_instances SET booked_count = booked_count - 1, updated_at = $2
WHERE id = $1 AND is_drop_in AND booked_count > 0
RETURNING id, booked_count, capacity`
	var counter models.BookingCounter
	if err := r.db.GetContext(ctx, &counter, query, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &counter, nil
}

// MarkAttendanceReminded stamps instances so the sweep does not notify twice.
func (r *ClassInstanceRepository) MarkAttendanceReminded(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE class_instances SET attendance_reminded_at = $1 WHERE id = ANY($2) AND attendance_reminded_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, at.UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark attendance reminded: %w", err)
	}
	return nil
}

func instanceIDs(rows []models.ClassInstance) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func normalisePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return page, size
}
