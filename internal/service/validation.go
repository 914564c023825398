package service

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var classCodePattern = regexp.MustCompile(`^[A-Za-z]{2}[0-9]$`)

// NewValidator returns a validator with the project's custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	registerValidations(v)
	return v
}

func registerValidations(v *validator.Validate) *validator.Validate {
	if v == nil {
		v = validator.New()
	}
	// two letters and a digit, e.g. "MA1"
	_ = v.RegisterValidation("classcode", func(fl validator.FieldLevel) bool {
		return classCodePattern.MatchString(fl.Field().String())
	})
	return v
}
