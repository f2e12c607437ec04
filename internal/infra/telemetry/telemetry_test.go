package telemetry

import (
	"context"
	"testing"
)

func TestStripScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318":  "collector:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
	}
	for in, want := range cases {
		if got := stripScheme(in); got != want {
			t.Fatalf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisabledProviderSetsEnvironment(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "Staging"})
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if got := Environment(); got != "staging" {
		t.Fatalf("expected lowercased environment, got %q", got)
	}
	if provider.Meter("test") == nil {
		t.Fatalf("disabled provider must still return a meter")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of disabled provider should be a no-op: %v", err)
	}
}

func TestRequestAttributesOmitEmptyErrorType(t *testing.T) {
	attrs := RequestAttributes("dev", "place_order", ResultSuccess, "")
	if len(attrs) != 3 {
		t.Fatalf("expected three attributes, got %d", len(attrs))
	}
	attrs = RequestAttributes("dev", "place_order", ResultError, "gateway_error")
	if len(attrs) != 4 || attrs[3].Value.AsString() != "gateway_error" {
		t.Fatalf("expected error type attribute, got %v", attrs)
	}
}
