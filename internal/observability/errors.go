package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors joins the non-nil errors from independent steps of one operation,
// logs them once, and returns the joined error. It returns nil when every step succeeded.
func AggregateErrors(operation string, results []error, fields ...Field) error {
	failed := make([]error, 0, len(results))
	messages := make([]string, 0, len(results))
	for _, err := range results {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		messages = append(messages, err.Error())
	}
	if len(failed) == 0 {
		return nil
	}
	logFields := append(append([]Field(nil), fields...),
		Field{Key: "operation", Value: operation},
		Field{Key: "error_count", Value: len(failed)},
		Field{Key: "errors", Value: messages},
	)
	Log().Error("operation errors", logFields...)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(failed...))
}
