package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
	ErrGateway            = errors.New("gateway failure")
	ErrConfiguration      = errors.New("configuration error")
)

// Validation codes surfaced to clients next to the translated message.
const (
	CodeFileTooLarge    = "file_too_large"
	CodeUnsupportedType = "unsupported_type"
	CodeTypeMismatch    = "type_mismatch"
	CodeEmptyFile       = "empty_file"
	CodeMissingPrompt   = "missing_prompt"
	CodeInvalidField    = "invalid_field"
	CodeInvalidStatus   = "invalid_status"
)

// ValidationError reports input the caller must fix. It is never retried.
type ValidationError struct {
	Code   string
	Detail string
}

func NewValidationError(code, detail string) *ValidationError {
	return &ValidationError{Code: code, Detail: detail}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation: " + e.Code
	}
	return fmt.Sprintf("validation: %s: %s", e.Code, e.Detail)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// GatewayError wraps a failed call to the AI gateway: non-2xx, timeout or a
// response without usable payload.
type GatewayError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	msg := "gateway"
	if e.Stage != "" {
		msg += " " + e.Stage
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// ConfigurationError is fatal and operator-facing, e.g. a missing credential.
type ConfigurationError struct {
	Component string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Component, e.Detail)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
