package service

import (
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

// ResolveScope translates a scope and a target row into a Selection. Only
// recurring rows accept a scope; plain classes are always edited singly.
func ResolveScope(target models.ClassInstance, scope models.Scope) (models.Selection, error) {
	if !target.IsRecurring {
		return models.Selection{}, appErrors.Clone(appErrors.ErrValidation, "scope applies only to recurring classes")
	}

	root := target.SeriesRootID()
	switch scope {
	case models.ScopeSingle:
		return models.Selection{Scope: scope, TargetID: target.ID, RootID: root}, nil
	case models.ScopeFuture:
		return models.Selection{Scope: scope, TargetID: target.ID, RootID: root, FromDate: models.DateOnly(target.Date)}, nil
	case models.ScopeAll:
		return models.Selection{Scope: scope, TargetID: target.ID, RootID: root}, nil
	default:
		return models.Selection{}, appErrors.Clone(appErrors.ErrValidation, "scope must be one of single, future, all")
	}
}
