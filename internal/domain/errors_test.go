package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
	}{
		{"validation", NewValidationError(CodeTypeMismatch, "png vs jpeg"), ErrValidation},
		{"wrapped validation", fmt.Errorf("process: %w", NewValidationError(CodeEmptyFile, "")), ErrValidation},
		{"gateway", &GatewayError{Stage: StepTransform, StatusCode: 503}, ErrGateway},
		{"configuration", &ConfigurationError{Component: "gemini", Detail: "missing api key"}, ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.target) {
				t.Fatalf("errors.Is(%v, %v) = false", tc.err, tc.target)
			}
		})
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("deadline")
	err := &GatewayError{Stage: StepTranslate, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if got := err.Error(); got != "gateway translate: deadline" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestHistoryStatus(t *testing.T) {
	if StatusPending.Final() {
		t.Fatal("pending must not be final")
	}
	if !StatusFailed.Final() || !StatusCompleted.Final() {
		t.Fatal("completed and failed are final")
	}
	if HistoryStatus("archived").Valid() {
		t.Fatal("unknown status reported valid")
	}
}

func TestBlobKeys(t *testing.T) {
	entry := HistoryEntry{OriginalImageKey: StringPtr("a"), ProcessedImageKey: StringPtr("")}
	keys := entry.BlobKeys()
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
