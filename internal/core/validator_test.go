package core

import (
	"errors"
	"testing"

	"guied/internal/types"
)

type checkoutLike struct {
	UserID string `json:"user_id" validate:"required,subscriber_id"`
	Plan   string `json:"plan"`
}

type namedStruct struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestValidationResult_IsValid(t *testing.T) {
	if !(ValidationResult{}).IsValid() {
		t.Error("empty result should be valid")
	}
	if (ValidationResult{Errors: []ValidationError{{Field: "x"}}}).IsValid() {
		t.Error("result with errors should be invalid")
	}
}

func TestValidateStruct_SubscriberID(t *testing.T) {
	v := NewValidator(testLogger())

	tests := []struct {
		name   string
		userID string
		valid  bool
		code   string
	}{
		{"canonical lowercase", "11111111-1111-1111-1111-111111111111", true, ""},
		{"canonical uppercase", "ABCDEF01-2345-6789-ABCD-EF0123456789", true, ""},
		{"missing", "", false, "required"},
		{"not a uuid", "user-1", false, "subscriber_id"},
		{"no hyphens", "11111111111111111111111111111111", false, "subscriber_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateStruct(checkoutLike{UserID: tt.userID})
			if res.IsValid() != tt.valid {
				t.Fatalf("expected valid=%v, got %+v", tt.valid, res.Errors)
			}
			if tt.valid {
				return
			}
			if res.Errors[0].Field != "user_id" {
				t.Errorf("expected json field name, got %q", res.Errors[0].Field)
			}
			if res.Errors[0].Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, res.Errors[0].Code)
			}
		})
	}
}

func TestValidate_MapsToAppError(t *testing.T) {
	v := NewValidator(testLogger())

	tests := []struct {
		name  string
		input any
		code  types.ErrorCode
	}{
		{"missing user id", checkoutLike{}, types.ErrCodeValidationInvalidUserID},
		{"malformed user id", checkoutLike{UserID: "nope"}, types.ErrCodeValidationInvalidUserID},
		{"other required field", namedStruct{}, types.ErrCodeValidationMissingField},
		{"other rule", namedStruct{Name: "n", Kind: "c"}, types.ErrCodeValidationInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != tt.code {
				t.Errorf("expected %q, got %q", tt.code, appErr.Code)
			}
			if len(appErr.Details) == 0 {
				t.Error("expected per-field details")
			}
		})
	}

	if err := v.Validate(checkoutLike{UserID: "11111111-1111-1111-1111-111111111111"}); err != nil {
		t.Errorf("valid input returned %v", err)
	}
}

func TestValidateStruct_DescribesOneOf(t *testing.T) {
	v := NewValidator(nil)
	res := v.ValidateStruct(namedStruct{Name: "n", Kind: "z"})
	if res.IsValid() {
		t.Fatal("expected failure")
	}
	if res.Errors[0].Message != "kind must be one of: a b" {
		t.Errorf("unexpected message %q", res.Errors[0].Message)
	}
}
