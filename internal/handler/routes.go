package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-ops-api/internal/middleware"
	"github.com/noah-isme/studio-ops-api/internal/models"
)

// Handlers bundles the API handlers mounted under the API prefix.
type Handlers struct {
	Classes    *ClassHandler
	Roster     *RosterHandler
	Attendance *AttendanceHandler
	Bookings   *BookingHandler
}

var (
	schedulers     = []models.UserRole{models.RoleOwner, models.RoleAdmin}
	rosterEditor   = []models.UserRole{models.RoleOwner, models.RoleAdmin, models.RoleStaff}
	registerTakers = []models.UserRole{models.RoleOwner, models.RoleAdmin, models.RoleTeacher}
	everyone       = []models.UserRole{models.RoleOwner, models.RoleAdmin, models.RoleTeacher, models.RoleStaff}
)

// RegisterRoutes mounts the scheduling API on group. Every route requires a valid token.
func RegisterRoutes(group *gin.RouterGroup, tokens middleware.TokenValidator, h Handlers) {
	classes := group.Group("/classes")
	classes.Use(middleware.JWT(tokens), middleware.RequireRoles(everyone...))

	classes.GET("", h.Classes.List)
	classes.POST("", middleware.RequireRoles(schedulers...), h.Classes.Create)
	classes.GET("/:id", h.Classes.Get)
	classes.GET("/:id/series", h.Classes.Series)
	classes.PUT("/:id", middleware.RequireRoles(schedulers...), h.Classes.Update)
	classes.DELETE("/:id", middleware.RequireRoles(schedulers...), h.Classes.Delete)

	classes.GET("/:id/roster", h.Roster.Get)
	classes.PUT("/:id/roster", middleware.RequireRoles(rosterEditor...), h.Roster.Reconcile)

	classes.GET("/:id/attendance", h.Attendance.Roster)
	classes.PUT("/:id/attendance", middleware.RequireRoles(registerTakers...), h.Attendance.Save)
	classes.GET("/:id/attendance/export", h.Attendance.Export)

	classes.GET("/:id/availability", h.Bookings.Availability)
	classes.POST("/:id/bookings", h.Bookings.Book)
	classes.DELETE("/:id/bookings", h.Bookings.Release)
}
