package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator.
// Request shapes are enforced with field tags; status and platform values
// are closed sets, so oneof covers them without custom rules.
func New() *validatorv10.Validate {
	return validatorv10.New()
}
