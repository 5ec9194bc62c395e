package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed caller input. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var validGenders = map[string]bool{
	"":       true,
	"male":   true,
	"female": true,
	"other":  true,
}

func validatePatient(p Patient) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "patient_name", Message: "is required"}
	}
	if strings.TrimSpace(p.Phone) == "" {
		return &ValidationError{Field: "patient_phone", Message: "is required"}
	}
	if p.Age < 1 || p.Age > 150 {
		return &ValidationError{Field: "patient_age", Message: "must be between 1 and 150"}
	}
	if !validGenders[strings.ToLower(p.Gender)] {
		return &ValidationError{Field: "patient_gender", Message: "must be male, female or other"}
	}
	return nil
}
