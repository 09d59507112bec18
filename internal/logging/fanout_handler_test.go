package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when all handlers are nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsLevels(t *testing.T) {
	var verbose, quiet bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("execution_id", "e1")
	logger.Debug("polling")
	logger.Warn("backend slow")

	if !strings.Contains(verbose.String(), "polling") || !strings.Contains(verbose.String(), "backend slow") {
		t.Fatalf("verbose handler missing records: %q", verbose.String())
	}
	if strings.Contains(quiet.String(), "polling") {
		t.Fatalf("quiet handler should drop debug: %q", quiet.String())
	}
	if !strings.Contains(quiet.String(), "execution_id=e1") {
		t.Fatalf("attrs should propagate: %q", quiet.String())
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("fanout should be enabled when any handler is")
	}
}
