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

type attendanceService interface {
	Roster(ctx context.Context, instanceID string, actor *models.JWTClaims) ([]models.AttendanceRosterEntry, error)
	Save(ctx context.Context, instanceID string, req dto.SaveAttendanceRequest, actor *models.JWTClaims) (*dto.AttendanceSaveResult, error)
	Export(ctx context.Context, instanceID, format string, actor *models.JWTClaims) (*dto.AttendanceExport, error)
}

// AttendanceHandler exposes attendance endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs an attendance handler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Roster godoc
// @Summary Get attendance roster
// @Tags Attendance
// @Produce json
// @Param id path string true "Class instance ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	entries, err := h.service.Roster(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Save godoc
// @Summary Save attendance
// @Description Replaces all attendance of the instance with the submitted items.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Class instance ID"
// @Param payload body dto.SaveAttendanceRequest true "Attendance items"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [put]
func (h *AttendanceHandler) Save(c *gin.Context) {
	var req dto.SaveAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Save(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download attendance register
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Class instance ID"
// @Param format query string false "csv | pdf"
// @Success 200 {file} file
// @Router /classes/{id}/attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	file, err := h.service.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}
