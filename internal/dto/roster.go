package dto

import "github.com/noah-isme/studio-ops-api/internal/models"

// ReconcileRosterRequest is the desired roster of a class instance.
type ReconcileRosterRequest struct {
	StudentIDs []string `json:"student_ids" validate:"dive,required"`
}

// ReconcileRosterResult summarises a roster reconciliation.
type ReconcileRosterResult struct {
	ClassID   string                  `json:"class_id"`
	Added     []string                `json:"added"`
	Removed   []string                `json:"removed"`
	Conflicts []models.RosterConflict `json:"conflicts"`
	Roster    []string                `json:"roster"`
}
