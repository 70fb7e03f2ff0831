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

type classScheduleService interface {
	Create(ctx context.Context, req dto.CreateClassRequest, actor *models.JWTClaims) (*dto.CreateClassResult, error)
	Update(ctx context.Context, id string, req dto.UpdateClassRequest, actor *models.JWTClaims) (*dto.ScopedMutationResult, error)
	Delete(ctx context.Context, id string, scope models.Scope, actor *models.JWTClaims) (*dto.ScopedMutationResult, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ClassInstance, error)
	GetSeries(ctx context.Context, id string, actor *models.JWTClaims) (*models.Series, error)
	ListCalendar(ctx context.Context, query dto.CalendarQuery, actor *models.JWTClaims) ([]models.ClassInstance, *models.Pagination, bool, error)
}

// ClassHandler exposes scheduling endpoints.
type ClassHandler struct {
	service classScheduleService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc classScheduleService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// List godoc
// @Summary List scheduled classes
// @Tags Classes
// @Produce json
// @Param from query string false "First date (YYYY-MM-DD)"
// @Param to query string false "Last date (YYYY-MM-DD)"
// @Param teacher_id query string false "Filter by teacher"
// @Param location_id query string false "Filter by location"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var query dto.CalendarQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	items, pagination, cached, err := h.service.ListCalendar(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, map[string]interface{}{"cached": cached})
}

// Get godoc
// @Summary Get class instance
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	instance, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instance, nil)
}

// Series godoc
// @Summary Get the recurring series of a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/series [get]
func (h *ClassHandler) Series(c *gin.Context) {
	series, err := h.service.GetSeries(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}

// Create godoc
// @Summary Schedule a class or weekly series
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body dto.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req dto.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Update godoc
// @Summary Edit a class
// @Description Recurring classes require scope: single, future or all.
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param scope query string false "single | future | all"
// @Param payload body dto.UpdateClassRequest true "Class payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *ClassHandler) Update(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	var req dto.UpdateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Scope = scope
	result, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a class
// @Description Recurring classes require scope: single, future or all.
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param scope query string false "single | future | all"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	result, err := h.service.Delete(c.Request.Context(), c.Param("id"), scope, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
