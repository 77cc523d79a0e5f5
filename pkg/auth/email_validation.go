package auth

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

const maxEmailLength = 254

var (
	// ErrInvalidEmail is returned for malformed addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword is returned when a password fails the policy.
	ErrWeakPassword = errors.New("password does not meet requirements")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// ValidateEmail checks that email is a bare address with a dotted domain.
func ValidateEmail(email string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" || len(normalized) > maxEmailLength {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized || !emailRegex.MatchString(normalized) {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
