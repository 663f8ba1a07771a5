package services

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	// The email tag accepts dotless domains; require local@domain.tld.
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}

// validatePassword enforces the password policy: at least 8 characters with
// one uppercase letter, one lowercase letter, and one digit.
func validatePassword(password string) error {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "must be at least 8 characters long")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !lower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !digit {
		problems = append(problems, "must contain a digit")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: password %s", ErrValidation, strings.Join(problems, ", "))
	}
	return nil
}
