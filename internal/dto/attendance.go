package dto

import "github.com/noah-isme/studio-ops-api/internal/models"

// AttendanceItem is one submitted attendance mark.
type AttendanceItem struct {
	InstanceEnrollmentID string  `json:"instance_enrollment_id" validate:"required"`
	Status               string  `json:"status" validate:"required,attendance_status"`
	Notes                *string `json:"notes" validate:"omitempty,max=500"`
}

// SaveAttendanceRequest replaces the attendance of a class instance.
type SaveAttendanceRequest struct {
	Items []AttendanceItem `json:"items" validate:"dive"`
}

// AttendanceSaveResult reports the saved records and the refreshed roster.
type AttendanceSaveResult struct {
	ClassID string                         `json:"class_id"`
	Saved   int                            `json:"saved"`
	Roster  []models.AttendanceRosterEntry `json:"roster"`
}

// AttendanceExport is a rendered attendance register.
type AttendanceExport struct {
	Filename    string
	ContentType string
	Content     []byte
}
