package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ClassStatus tracks the lifecycle of a scheduled class.
type ClassStatus string

const (
	ClassStatusScheduled ClassStatus = "SCHEDULED"
	ClassStatusCancelled ClassStatus = "CANCELLED"
)

// ClassInstance is a single dated occurrence of a class. Recurring series are
// stored as an anchor row (parent_class_id NULL, is_recurring true) plus one
// child row per generated date pointing back at the anchor.
type ClassInstance struct {
	ID                   string      `db:"id" json:"id"`
	StudioID             string      `db:"studio_id" json:"studio_id"`
	ParentClassID        *string     `db:"parent_class_id" json:"parent_class_id,omitempty"`
	Name                 string      `db:"name" json:"name"`
	TeacherID            string      `db:"teacher_id" json:"teacher_id"`
	LocationID           string      `db:"location_id" json:"location_id"`
	Date                 time.Time   `db:"date" json:"date"`
	EndDate              time.Time   `db:"end_date" json:"end_date"`
	StartTime            string      `db:"start_time" json:"start_time"`
	EndTime              string      `db:"end_time" json:"end_time"`
	Weekday              *int        `db:"weekday" json:"weekday,omitempty"`
	IsRecurring          bool        `db:"is_recurring" json:"is_recurring"`
	IsDropIn             bool        `db:"is_drop_in" json:"is_drop_in"`
	Capacity             *int        `db:"capacity" json:"capacity,omitempty"`
	DropInPrice          *float64    `db:"drop_in_price" json:"drop_in_price,omitempty"`
	BookedCount          int         `db:"booked_count" json:"booked_count"`
	Status               ClassStatus `db:"status" json:"status"`
	AttendanceRemindedAt *time.Time  `db:"attendance_reminded_at" json:"-"`
	CreatedAt            time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at" json:"updated_at"`
}

// SeriesRootID returns the anchor id for recurring rows, or the row's own id.
func (c ClassInstance) SeriesRootID() string {
	if c.ParentClassID != nil && *c.ParentClassID != "" {
		return *c.ParentClassID
	}
	return c.ID
}

// IsAnchor reports whether the row is the template of a recurring series.
func (c ClassInstance) IsAnchor() bool {
	return c.IsRecurring && (c.ParentClassID == nil || *c.ParentClassID == "")
}

// SpotsRemaining returns nil when the class has no capacity limit.
func (c ClassInstance) SpotsRemaining() *int {
	if c.Capacity == nil {
		return nil
	}
	remaining := *c.Capacity - c.BookedCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// ClassPatch carries the mutable fields applied by a scoped edit.
type ClassPatch struct {
	Name        string
	TeacherID   string
	LocationID  string
	StartTime   string
	EndTime     string
	IsDropIn    bool
	Capacity    *int
	DropInPrice *float64
	UpdatedAt   time.Time
}

// Series groups the anchor of a recurring class with its generated instances.
type Series struct {
	Anchor    ClassInstance
	instances []ClassInstance
}

// NewSeries builds a series from rows sharing the anchor's id, ordered by date.
func NewSeries(anchor ClassInstance, rows []ClassInstance) *Series {
	instances := make([]ClassInstance, 0, len(rows))
	for _, row := range rows {
		if row.ID == anchor.ID {
			continue
		}
		if row.ParentClassID == nil || *row.ParentClassID != anchor.ID {
			continue
		}
		instances = append(instances, row)
	}
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].Date.Before(instances[j].Date)
	})
	return &Series{Anchor: anchor, instances: instances}
}

// Instances returns the dated occurrences of the series in chronological order.
func (s *Series) Instances() []ClassInstance {
	if s == nil {
		return nil
	}
	out := make([]ClassInstance, len(s.instances))
	copy(out, s.instances)
	return out
}

// MarshalJSON exposes the series as anchor plus instances.
func (s *Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Anchor    ClassInstance   `json:"anchor"`
		Instances []ClassInstance `json:"instances"`
	}{Anchor: s.Anchor, Instances: s.Instances()})
}

// CalendarFilter narrows calendar listings for a studio.
type CalendarFilter struct {
	StudioID   string
	From       *time.Time
	To         *time.Time
	TeacherID  string
	LocationID string
	Page       int
	PageSize   int
}

// BookingCounter is the state of a drop-in class after a booking change.
type BookingCounter struct {
	ID          string `db:"id" json:"class_id"`
	BookedCount int    `db:"booked_count" json:"booked_count"`
	Capacity    *int   `db:"capacity" json:"capacity,omitempty"`
}

// SpotsRemaining mirrors ClassInstance.SpotsRemaining for counters.
func (b BookingCounter) SpotsRemaining() *int {
	return ClassInstance{Capacity: b.Capacity, BookedCount: b.BookedCount}.SpotsRemaining()
}

// Availability describes how many drop-in spots are left.
type Availability struct {
	ClassID        string `json:"class_id"`
	IsDropIn       bool   `json:"is_drop_in"`
	Capacity       *int   `json:"capacity"`
	BookedCount    int    `json:"booked_count"`
	SpotsRemaining *int   `json:"spots_remaining"`
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
