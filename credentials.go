package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength is the shortest password accepted on sign up.
const MinPasswordLength = 6

// Credentials is the email/password pair used by sign in and sign up.
type Credentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Normalize trims surrounding whitespace from the email.
func (c Credentials) Normalize() Credentials {
	c.Email = strings.TrimSpace(c.Email)
	return c
}

// Validate checks the pair before a sign in attempt.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required),
	)
}

// ValidateSignUp checks the pair before account creation.
func (c Credentials) ValidateSignUp() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&c.Password, validation.Required, validation.Length(MinPasswordLength, 72)),
	)
}
