package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"curator/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrInvalidTrigger, "schedule", "pointer date missing", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrInvalidTrigger) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"schedule", "pointer date missing"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want services.Kind
	}{
		{nil, services.KindNone},
		{services.ErrDatasetNotFound, services.KindNotFound},
		{fmt.Errorf("submit: %w", services.ErrWorkflowNotFound), services.KindNotFound},
		{services.ErrExecutionAlreadyExists, services.KindAlreadyExists},
		{services.ErrScheduledTriggerAlreadyExists, services.KindAlreadyExists},
		{services.Wrap(services.ErrInvalidTrigger, "schedule", "", nil), services.KindInvalid},
		{errors.New("disk full"), services.KindInternal},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
