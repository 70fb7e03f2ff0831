package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
	"github.com/noah-isme/studio-ops-api/pkg/response"
)

type rosterService interface {
	Roster(ctx context.Context, instanceID string, actor *models.JWTClaims) ([]string, error)
	Reconcile(ctx context.Context, instanceID string, req dto.ReconcileRosterRequest, actor *models.JWTClaims) (*dto.ReconcileRosterResult, error)
}

// RosterHandler exposes class roster endpoints.
type RosterHandler struct {
	service rosterService
}

// NewRosterHandler constructs a roster handler.
func NewRosterHandler(svc rosterService) *RosterHandler {
	return &RosterHandler{service: svc}
}

// Get godoc
// @Summary Get class roster
// @Tags Roster
// @Produce json
// @Param id path string true "Class instance ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/roster [get]
func (h *RosterHandler) Get(c *gin.Context) {
	ids, err := h.service.Roster(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"class_id": c.Param("id"), "student_ids": ids}, nil)
}

// Reconcile godoc
// @Summary Replace class roster
// @Description Students with recorded attendance are kept and reported as conflicts.
// @Tags Roster
// @Accept json
// @Produce json
// @Param id path string true "Class instance ID"
// @Param payload body dto.ReconcileRosterRequest true "Desired roster"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/roster [put]
func (h *RosterHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Reconcile(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
