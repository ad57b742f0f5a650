package catemu

import "fmt"

// ValidationError reports a command argument that failed a state invariant.
// The dispatcher logs it and drops the mutation; it never reaches the client.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
