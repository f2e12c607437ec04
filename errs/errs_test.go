package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesProtocolAndMetadata(t *testing.T) {
	err := New(
		5003,
		CodeGateway,
		WithMessage("place order rejected"),
		WithRawCode("400"),
		WithRawMessage("insufficient funds"),
		WithMetadata(map[string]string{
			"env":  "0",
			"code": "000001",
		}),
		WithField("order_id", "12345"),
		WithCause(errors.New("gateway said no")),
	)

	out := err.Error()
	if !strings.Contains(out, "protocol=5003") {
		t.Fatalf("expected protocol marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=gateway_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	expectedMeta := "meta=code=\"000001\",env=\"0\",order_id=\"12345\""
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, "raw_msg=\"insufficient funds\"") {
		t.Fatalf("expected raw message in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"gateway said no\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestProtocolOmittedWhenZero(t *testing.T) {
	err := Invalid(0, "bad symbol")
	if strings.Contains(err.Error(), "protocol=") {
		t.Fatalf("protocol marker should be omitted when zero: %s", err.Error())
	}
}

func TestMetadataMerge(t *testing.T) {
	err := New(
		5008,
		CodeMalformed,
		WithMetadata(map[string]string{"key": "HKOrderArr"}),
		WithMetadata(map[string]string{"key": "CNOrderArr", "env": "0"}),
	)

	if got := err.Metadata["key"]; got != "CNOrderArr" {
		t.Fatalf("expected latest metadata to win, got %q", got)
	}
	if got := err.Metadata["env"]; got != "0" {
		t.Fatalf("expected env metadata to be present, got %q", got)
	}
}

func TestIsAndCodeOfSeeThroughWrapping(t *testing.T) {
	base := New(5008, CodeMalformed, WithMessage("missing HKOrderArr"))
	wrapped := fmt.Errorf("query orders: %w", base)

	if !Is(wrapped, CodeMalformed) {
		t.Fatalf("expected wrapped error to classify as malformed")
	}
	if Is(wrapped, CodeGateway) {
		t.Fatalf("malformed error must not classify as gateway error")
	}
	if got := CodeOf(wrapped); got != CodeMalformed {
		t.Fatalf("expected code %q, got %q", CodeMalformed, got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty code for plain error, got %q", got)
	}
}

func TestReasonPrefersGatewayText(t *testing.T) {
	err := New(5003, CodeGateway, WithMessage("place order"), WithRawMessage("market closed"))
	if got := err.Reason(); got != "market closed" {
		t.Fatalf("expected raw gateway message, got %q", got)
	}
	if got := Invalid(0, "bad side").Reason(); got != "bad side" {
		t.Fatalf("expected message, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
