package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"guied/internal/billing"
	"guied/internal/types"
)

// Validator wraps go-playground/validator with the service's custom tags:
//
//	subscriber_id  canonical 8-4-4-4-12 hex identity (billing.ValidSubscriberID)
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes one failing field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects every failing field of a struct.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid reports whether no field failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// NewValidator creates a Validator with the custom tags registered. Field
// names are reported by their json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("subscriber_id", func(fl validator.FieldLevel) bool {
		return billing.ValidSubscriberID(fl.Field().String())
	}); err != nil {
		logger.Error("failed to register subscriber_id validation", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct runs every rule on s.
func (v *Validator) ValidateStruct(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("struct validation failed unexpectedly", "error", err)
		return ValidationResult{Errors: []ValidationError{{
			Field: "", Code: "invalid", Message: err.Error(),
		}}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return ValidationResult{Errors: out}
}

// Validate runs ValidateStruct and converts the first failure into an
// AppError. A subscriber_id failure (or a missing user_id) maps to
// validation_invalid_user_id; other failures to validation_missing_required_field
// or the generic invalid-json code.
func (v *Validator) Validate(s any) error {
	res := v.ValidateStruct(s)
	if res.IsValid() {
		return nil
	}

	first := res.Errors[0]
	code := types.ErrCodeValidationInvalidJSON
	switch {
	case first.Code == "subscriber_id", first.Field == "user_id":
		code = types.ErrCodeValidationInvalidUserID
	case first.Code == "required":
		code = types.ErrCodeValidationMissingField
	}

	details := make(map[string]any, len(res.Errors))
	for _, e := range res.Errors {
		details[e.Field] = e.Message
	}
	return types.NewAppErrorWithDetails(code, first.Message, nil, details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "subscriber_id":
		return fmt.Sprintf("%s must be a valid user id", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
