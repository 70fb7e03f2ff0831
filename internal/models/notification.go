package models

import "time"

// NotificationKind enumerates outbound events.
type NotificationKind string

const (
	NotificationCapacityReached   NotificationKind = "capacity_reached"
	NotificationScheduleChanged   NotificationKind = "schedule_changed"
	NotificationTeacherAssigned   NotificationKind = "teacher_assigned"
	NotificationRosterChanged     NotificationKind = "roster_changed"
	NotificationAttendanceOverdue NotificationKind = "attendance_overdue"
)

// NotificationEvent is published to subscribers after a committed change.
type NotificationEvent struct {
	ID         string                 `json:"id"`
	Kind       NotificationKind       `json:"kind"`
	ClassID    string                 `json:"class_id"`
	StudioID   string                 `json:"studio_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
