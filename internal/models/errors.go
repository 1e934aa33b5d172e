package models

import "strings"

// ValidationError reports malformed or missing request fields.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// RequireFields returns a ValidationError naming every empty value, or nil.
// Pairs are name, value.
func RequireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing}
}
