package dto

import "github.com/noah-isme/studio-ops-api/internal/models"

// CreateClassRequest defines the payload for scheduling a class or a weekly series.
type CreateClassRequest struct {
	Name        string   `json:"name" validate:"required,max=120"`
	TeacherID   string   `json:"teacher_id" validate:"required"`
	LocationID  string   `json:"location_id" validate:"required"`
	Date        string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime   string   `json:"start_time" validate:"required,hhmm"`
	EndTime     string   `json:"end_time" validate:"required,hhmm"`
	IsRecurring bool     `json:"is_recurring"`
	Weekday     *int     `json:"weekday" validate:"omitempty,min=0,max=6"`
	EndDate     string   `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	IsDropIn    bool     `json:"is_drop_in"`
	Capacity    *int     `json:"capacity" validate:"omitempty,min=0"`
	DropInPrice *float64 `json:"drop_in_price" validate:"omitempty,min=0"`
	StudentIDs  []string `json:"student_ids" validate:"omitempty,dive,required"`
}

// CreateClassResult reports the rows created for a class.
type CreateClassResult struct {
	AnchorID     *string  `json:"anchor_id,omitempty"`
	InstanceIDs  []string `json:"instance_ids"`
	RosterSeeded bool     `json:"roster_seeded"`
	Warnings     []string `json:"warnings,omitempty"`
}

// UpdateClassRequest carries the editable fields of a class.
type UpdateClassRequest struct {
	Scope       models.Scope `json:"-" validate:"omitempty,scope"`
	Name        string       `json:"name" validate:"required,max=120"`
	TeacherID   string       `json:"teacher_id" validate:"required"`
	LocationID  string       `json:"location_id" validate:"required"`
	StartTime   string       `json:"start_time" validate:"required,hhmm"`
	EndTime     string       `json:"end_time" validate:"required,hhmm"`
	IsDropIn    bool         `json:"is_drop_in"`
	Capacity    *int         `json:"capacity" validate:"omitempty,min=0"`
	DropInPrice *float64     `json:"drop_in_price" validate:"omitempty,min=0"`
}

// ScopedMutationResult reports which rows a scoped edit or delete touched.
type ScopedMutationResult struct {
	Scope       models.Scope `json:"scope"`
	AffectedIDs []string     `json:"affected_ids"`
	Count       int          `json:"count"`
}

// CalendarQuery holds calendar listing query parameters.
type CalendarQuery struct {
	From       string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To         string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	TeacherID  string `form:"teacher_id"`
	LocationID string `form:"location_id"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"page_size" validate:"omitempty,min=1,max=500"`
}
