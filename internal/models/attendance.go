package models

import (
	"strings"
	"time"
)

// AttendanceStatus is the recorded outcome for one student in one class.
type AttendanceStatus string

const (
	AttendanceStatusPresent      AttendanceStatus = "present"
	AttendanceStatusLate         AttendanceStatus = "late"
	AttendanceStatusAuthorised   AttendanceStatus = "authorised"
	AttendanceStatusUnauthorised AttendanceStatus = "unauthorised"
)

// ParseAttendanceStatus normalises case and whitespace. "absent" is accepted
// as an alias of unauthorised.
func ParseAttendanceStatus(raw string) AttendanceStatus {
	status := AttendanceStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == "absent" {
		return AttendanceStatusUnauthorised
	}
	return status
}

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAuthorised, AttendanceStatusUnauthorised:
		return true
	default:
		return false
	}
}

// AttendanceRecord is keyed by the instance enrollment it belongs to.
type AttendanceRecord struct {
	InstanceEnrollmentID string           `db:"instance_enrollment_id" json:"instance_enrollment_id"`
	Status               AttendanceStatus `db:"status" json:"status"`
	Notes                *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy           *string          `db:"recorded_by" json:"recorded_by,omitempty"`
	RecordedAt           time.Time        `db:"recorded_at" json:"recorded_at"`
}

// AttendanceRosterEntry is one row of the attendance view for a class instance.
// Student details are optional; DetailAvailable is false when the directory
// has no record for the student.
type AttendanceRosterEntry struct {
	InstanceEnrollmentID string            `db:"instance_enrollment_id" json:"instance_enrollment_id"`
	StudentID            string            `db:"student_id" json:"student_id"`
	StudentName          *string           `db:"student_name" json:"student_name,omitempty"`
	EmergencyContact     *string           `db:"emergency_contact" json:"emergency_contact,omitempty"`
	MedicalNotes         *string           `db:"medical_notes" json:"medical_notes,omitempty"`
	DetailAvailable      bool              `db:"detail_available" json:"detail_available"`
	Status               *AttendanceStatus `db:"status" json:"status,omitempty"`
	Notes                *string           `db:"notes" json:"notes,omitempty"`
	RecordedAt           *time.Time        `db:"recorded_at" json:"recorded_at,omitempty"`
}

// OverdueAttendance is a past class with enrolled students but no records.
type OverdueAttendance struct {
	ClassInstanceID string    `db:"class_instance_id" json:"class_instance_id"`
	StudioID        string    `db:"studio_id" json:"studio_id"`
	Name            string    `db:"name" json:"name"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	Date            time.Time `db:"date" json:"date"`
	EnrolledCount   int       `db:"enrolled_count" json:"enrolled_count"`
}
