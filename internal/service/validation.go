package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

// NewValidator returns a validator with the scheduling tags registered:
// hhmm (24h "HH:MM"), scope and attendance_status. Field errors are reported
// under their json or form names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(requestFieldName)
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil && len(fl.Field().String()) == 5
	})
	_ = v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
		return models.Scope(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.ParseAttendanceStatus(fl.Field().String()).Valid()
	})
	return v
}

func requestFieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return ""
}

// invalidPayload converts a validator failure into a VALIDATION_ERROR that
// lists each failing field with its rule.
func invalidPayload(err error, message string) error {
	appErr := appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErr
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fieldPath(fe.Namespace())] = rule
	}
	return appErr.WithFields(fields)
}

// fieldPath drops the struct name from a validator namespace
// ("SaveAttendanceRequest.items[0].status" becomes "items[0].status").
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
