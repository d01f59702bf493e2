package validation

import (
	"strconv"
	"strings"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// FieldError is a rejected value of one request field.
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every rejected field of a request.
// It matches domain.ErrInvalidInput under errors.Is.
type ValidationErrors []*FieldError

// Error joins all messages, first field first.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// Add records a rejected field.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &FieldError{Field: field, Value: value, Message: message})
}

// AddPercentage records a rejected traffic percentage, formatted the way
// operators type it ("12.5", not "1.25e+01").
func (e *ValidationErrors) AddPercentage(field string, p float64, message string) {
	e.Add(field, strconv.FormatFloat(p, 'f', -1, 64), message)
}

// Required records a field missing from the request body.
func (e *ValidationErrors) Required(field string) {
	e.Add(field, "", "is required")
}

// HasErrors reports whether any field was rejected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the rejected field names in order, without duplicates.
func (e ValidationErrors) Fields() []string {
	var fields []string
	seen := make(map[string]bool, len(e))
	for _, fe := range e {
		if !seen[fe.Field] {
			seen[fe.Field] = true
			fields = append(fields, fe.Field)
		}
	}
	return fields
}
