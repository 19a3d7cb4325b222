package schema

import "fmt"

// SchemaError is a build-time failure. Build reports every problem it finds; the
// returned error combines them with multierr, and each one is a *SchemaError, so
// errors.As and multierr.Errors both work on the result.
type SchemaError struct {
	Entity string // e.g. "struct User field tags", "service Calc"
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Entity == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Entity, e.Reason)
}

func errorf(entity, format string, args ...any) *SchemaError {
	return &SchemaError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}
