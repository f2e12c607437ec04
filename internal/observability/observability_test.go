package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerRendersSortedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)

	logger.Info("subscribed", Field{Key: "env", Value: 0}, Field{Key: "count", Value: 2})
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "INFO subscribed count=2 env=0") {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entries must be dropped when debug is off")
	}
}

func TestAggregateErrors(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewStdLogger(log.New(&buf, "", 0), false))
	defer SetLogger(nil)

	if err := AggregateErrors("resubscribe", []error{nil, nil}); err != nil {
		t.Fatalf("expected nil for empty error set, got %v", err)
	}

	first := errors.New("env 0 failed")
	second := errors.New("env 1 failed")
	err := AggregateErrors("resubscribe", []error{first, nil, second}, Field{Key: "reconnect", Value: 3})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("aggregated error must wrap each cause: %v", err)
	}
	if !strings.Contains(err.Error(), "resubscribe failed") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !strings.Contains(buf.String(), "error_count=2") {
		t.Fatalf("expected structured log entry, got %q", buf.String())
	}
}
