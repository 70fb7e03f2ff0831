package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/pkg/response"
)

type capacityService interface {
	Availability(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error)
	Book(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error)
	Release(ctx context.Context, instanceID string, actor *models.JWTClaims) (*models.Availability, error)
}

// BookingHandler exposes drop-in availability and booking endpoints.
type BookingHandler struct {
	service capacityService
}

// NewBookingHandler constructs a booking handler.
func NewBookingHandler(svc capacityService) *BookingHandler {
	return &BookingHandler{service: svc}
}

// Availability godoc
// @Summary Get drop-in availability
// @Tags Bookings
// @Produce json
// @Param id path string true "Class instance ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/availability [get]
func (h *BookingHandler) Availability(c *gin.Context) {
	availability, err := h.service.Availability(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}

// Book godoc
// @Summary Book a drop-in spot
// @Tags Bookings
// @Produce json
// @Param id path string true "Class instance ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes/{id}/bookings [post]
func (h *BookingHandler) Book(c *gin.Context) {
	availability, err := h.service.Book(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, availability)
}

// Release godoc
// @Summary Release a drop-in spot
// @Tags Bookings
// @Produce json
// @Param id path string true "Class instance ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/bookings [delete]
func (h *BookingHandler) Release(c *gin.Context) {
	availability, err := h.service.Release(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}
