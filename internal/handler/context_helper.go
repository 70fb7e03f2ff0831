package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-ops-api/internal/middleware"
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
	"github.com/noah-isme/studio-ops-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// scopeFromQuery reads ?scope=. It writes the error response itself and
// returns false when the value is not a known scope.
func scopeFromQuery(c *gin.Context) (models.Scope, bool) {
	scope, ok := models.ParseScope(c.Query("scope"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "scope must be one of single, future, all"))
		return "", false
	}
	return scope, true
}
