package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxAmount bounds every monetary operator input.
const MaxAmount = 1_000_000

var validate = validator.New()

// Sanitise trims operator input; blank input becomes the empty string.
func Sanitise(input string) string {
	return strings.TrimSpace(input)
}

// ValidateStruct runs the struct's validate tags and converts failures into a
// ValidationError naming the offending fields.
func ValidateStruct(payload interface{}) error {
	if err := validate.Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return NewValidationError("invalid input", err)
		}
		fields := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return NewValidationError("invalid "+strings.Join(fields, ", "), err)
	}
	return nil
}

// IsValidAccountNo reports whether value is a syntactically valid account
// number: a UUID in canonical textual form, in either letter case.
func IsValidAccountNo(value string) bool {
	return validate.Var(strings.ToLower(value), "required,uuid") == nil
}
