package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy requires 12 characters and nothing else.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12}
}

type passwordRule struct {
	enabled     bool
	description string
	match       func(rune) bool
}

func (p PasswordPolicy) rules() []passwordRule {
	return []passwordRule{
		{p.RequireUppercase, "one uppercase letter", unicode.IsUpper},
		{p.RequireLowercase, "one lowercase letter", unicode.IsLower},
		{p.RequireNumber, "one number", unicode.IsDigit},
		{p.RequireSpecial, "one special character", isSpecial},
	}
}

// Validate returns an error naming the first requirement password misses.
func (p PasswordPolicy) Validate(password string) error {
	if p.MinLength > 0 && len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, p.MinLength)
	}
	for _, rule := range p.rules() {
		if rule.enabled && !strings.ContainsFunc(password, rule.match) {
			return fmt.Errorf("%w: %s", ErrWeakPassword, rule.description)
		}
	}
	return nil
}

// Requirements returns a human-readable description of the policy.
func (p PasswordPolicy) Requirements() string {
	var parts []string
	if p.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	for _, rule := range p.rules() {
		if rule.enabled {
			parts = append(parts, rule.description)
		}
	}
	if len(parts) == 0 {
		return "No password requirements"
	}
	return "Password must contain " + strings.Join(parts, ", ")
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
