package authapi

import (
	"net/mail"
	"strings"

	dErrors "brewlog/pkg/domain-errors"
)

const (
	maxEmailLength    = 254
	maxPasswordLength = 128
	maxNameLength     = 100
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// RegisterRequest is the sign-up form. ConfirmPassword is checked locally and
// never sent.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
	Name            string `json:"name,omitempty"`
}

func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.Name = strings.TrimSpace(r.Name)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}

	if len(r.Email) > maxEmailLength {
		return dErrors.New(dErrors.CodeValidation, "email must be 254 characters or less")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be 128 characters or less")
	}
	if len(r.Name) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name must be 100 characters or less")
	}

	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}

	if _, err := mail.ParseAddress(r.Email); err != nil {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}

	if r.Password != r.ConfirmPassword {
		return dErrors.New(dErrors.CodeValidation, "passwords do not match")
	}
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse is the success body of /login, /register and /refresh-token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
