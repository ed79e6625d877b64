package auth

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"auth-serverless/internal/common"
)

const minPasswordLength = 8

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateCredentials returns the normalized email or a *common.ValidationError
// carrying the first failed rule's message.
func validateCredentials(email, password string) (string, error) {
	normalized := normalizeEmail(email)

	if err := validation.Validate(email, validation.Required.Error("Email is required")); err != nil {
		return "", &common.ValidationError{Message: err.Error()}
	}
	if err := validation.Validate(normalized,
		validation.Required.Error("Invalid email format"),
		validation.Match(emailRegex).Error("Invalid email format"),
	); err != nil {
		return "", &common.ValidationError{Message: err.Error()}
	}
	if err := validation.Validate(password,
		validation.Required.Error("Password is required"),
		validation.RuneLength(minPasswordLength, 0).Error("Password must be at least 8 characters"),
	); err != nil {
		return "", &common.ValidationError{Message: err.Error()}
	}

	return normalized, nil
}
