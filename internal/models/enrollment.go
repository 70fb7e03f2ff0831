package models

import "time"

// RosterConflictAttendanceRecorded marks a removal blocked by recorded attendance.
const RosterConflictAttendanceRecorded = "attendance_recorded"

// Enrollment is a student's registration to a class instance.
type Enrollment struct {
	ClassInstanceID string    `db:"class_instance_id" json:"class_instance_id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// InstanceEnrollment is the per-instance roster snapshot attendance hangs off.
type InstanceEnrollment struct {
	ID              string    `db:"id" json:"id"`
	ClassInstanceID string    `db:"class_instance_id" json:"class_instance_id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// RosterConflict reports a student that could not be removed from a roster.
type RosterConflict struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// RosterChange is the outcome of applying a roster diff.
type RosterChange struct {
	Added   []string
	Removed []string
	Locked  []string
}
