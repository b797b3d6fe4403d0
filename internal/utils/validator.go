// internal/utils/validator.go
package utils

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/javajoker/license-backend/internal/models"
)

var (
	validate        *validator.Validate
	featureNameExpr = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,99}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("license_type", validateLicenseType)
	validate.RegisterValidation("feature_name", validateFeatureName)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateLicenseType(fl validator.FieldLevel) bool {
	return models.LicenseType(fl.Field().String()).Valid()
}

func validateFeatureName(fl validator.FieldLevel) bool {
	return featureNameExpr.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "license_type":
		return "Type must be one of trial, standard, premium, enterprise"
	case "feature_name":
		return "Feature names are 1-100 letters, digits, '_', '.', ':' or '-'"
	default:
		return e.Field() + " is invalid"
	}
}
