package validation

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// Indian mobile numbers: ten digits, leading 6-9.
	reMobile = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	reDigits = regexp.MustCompile(`^[0-9]+$`)
)

// Validator checks phone numbers and OTP codes.
type Validator struct {
	validate   *validator.Validate
	codeLength int
}

func New(codeLength int) (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return reMobile.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("failed to register mobile validation: %w", err)
	}

	if err := validate.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return len(value) == codeLength && reDigits.MatchString(value)
	}); err != nil {
		return nil, fmt.Errorf("failed to register otpcode validation: %w", err)
	}

	return &Validator{validate: validate, codeLength: codeLength}, nil
}

func (v *Validator) Present(value string) bool {
	return v.validate.Var(value, "required") == nil
}

func (v *Validator) PhoneNumber(value string) bool {
	return v.validate.Var(value, "mobile") == nil
}

func (v *Validator) Code(value string) bool {
	return v.validate.Var(value, "otpcode") == nil
}

func (v *Validator) CodeLength() int {
	return v.codeLength
}
