package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("call_id", "c-1").WithContext("count", 42)

	if err.Context["call_id"] != "c-1" {
		t.Errorf("Context[call_id] = %v, want 'c-1'", err.Context["call_id"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad"), ErrCodeInvalidInput, 400},
		{NewNotFoundError("call"), ErrCodeNotFound, 404},
		{NewUnauthorizedError("no"), ErrCodeUnauthorized, 401},
		{NewForbiddenError("no"), ErrCodeForbidden, 403},
		{NewInvalidStateError("ended"), ErrCodeInvalidState, 409},
		{NewRateLimitError(), ErrCodeRateLimit, 429},
		{NewServiceUnavailableError("init"), ErrCodeServiceUnavailable, 503},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
		}
		if tc.err.HTTPStatus != tc.status {
			t.Errorf("HTTPStatus = %v, want %v", tc.err.HTTPStatus, tc.status)
		}
	}
	if NewNotFoundError("call").Message != "call not found" {
		t.Errorf("unexpected not found message")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("handler: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from fmt-wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if result := GetAppError(nil); result != nil {
		t.Error("GetAppError(nil) should return nil")
	}
}
