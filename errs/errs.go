// Package errs provides structured error types and helpers for cntrade services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category surfaced by the adapter.
type Code string

const (
	// CodeInvalid indicates invalid input rejected locally before any network call.
	CodeInvalid Code = "invalid_request"
	// CodeGateway indicates the gateway answered with a non-zero ErrCode.
	CodeGateway Code = "gateway_error"
	// CodeMalformed indicates a response that violates the protocol contract.
	CodeMalformed Code = "malformed_response"
	// CodeNetwork indicates a transport failure.
	CodeNetwork Code = "network"
	// CodeAuth indicates trading credentials are missing or were rejected.
	CodeAuth Code = "auth"
	// CodeUnavailable indicates the gateway connection is not ready.
	CodeUnavailable Code = "unavailable"
	// CodeRateLimited indicates the call was refused by local pacing.
	CodeRateLimited Code = "rate_limited"
)

// E captures structured error information produced across the adapter.
type E struct {
	Protocol int
	Code     Code
	RawCode  string
	RawMsg   string
	Message  string
	Metadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the protocol tag and error code.
// A zero protocol means the failure is not tied to a specific operation.
func New(protocol int, code Code, opts ...Option) *E {
	e := &E{
		Protocol: protocol,
		Code:     code,
		RawCode:  "",
		RawMsg:   "",
		Message:  "",
		Metadata: nil,
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Invalid is shorthand for a validation failure.
func Invalid(protocol int, message string) *E {
	return New(protocol, CodeInvalid, WithMessage(message))
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawCode captures the raw gateway error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw gateway error description.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMetadata merges the provided metadata into the error envelope.
func WithMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Metadata[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	if e.Protocol > 0 {
		parts = append(parts, "protocol="+strconv.Itoa(e.Protocol))
	}

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Reason returns the most specific human-readable text carried by the error.
func (e *E) Reason() string {
	if e == nil {
		return ""
	}
	if e.RawMsg != "" {
		return e.RawMsg
	}
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Code)
}

// Is reports whether err wraps an *E with the given code.
func Is(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf returns the code of the first *E in err's chain, or the empty code.
func CodeOf(err error) Code {
	var e *E
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
