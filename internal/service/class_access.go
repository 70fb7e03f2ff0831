package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/pkg/database"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

type classFinder interface {
	FindByID(ctx context.Context, id string) (*models.ClassInstance, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// loadClass fetches a class and hides rows belonging to another studio.
func loadClass(ctx context.Context, classes classFinder, id string, actor *models.JWTClaims) (*models.ClassInstance, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}
	instance, err := classes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsInvalidTextRepresentation(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Storage(err, "failed to load class")
	}
	if actor != nil && actor.StudioID != "" && instance.StudioID != actor.StudioID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return instance, nil
}

// storageError keeps typed errors, reports malformed ids as VALIDATION_ERROR,
// lost write races as CONFLICT and wraps everything else as STORAGE_ERROR.
func storageError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsInvalidTextRepresentation(err) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed identifier")
	}
	if database.IsSerializationFailure(err) || database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent change detected, retry the request")
	}
	return appErrors.Storage(err, message)
}

func actorUserID(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func actorStudioID(actor *models.JWTClaims) string {
	if actor == nil {
		return ""
	}
	return actor.StudioID
}
