package errors

import (
	"net/mail"
	"strings"
	"unicode"
)

// Password length bounds. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// NormalizeEmail trims and lowercases an address and checks that it parses
// as a bare address (no display name).
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", New(ErrCodeBadRequest, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", New(ErrCodeBadRequest, "email is not a valid address")
	}
	return email, nil
}

// ValidatePassword enforces the password policy:
//   - between MinPasswordLength and MaxPasswordLength bytes
//   - no control characters
//   - not entirely whitespace
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return New(ErrCodeBadRequest, "password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return New(ErrCodeBadRequest, "password must be at most %d bytes", MaxPasswordLength)
	}
	for _, r := range password {
		if unicode.IsControl(r) {
			return New(ErrCodeBadRequest, "password contains invalid control characters")
		}
	}
	if strings.TrimSpace(password) == "" {
		return New(ErrCodeBadRequest, "password cannot be blank")
	}
	return nil
}

// ValidateDPI checks a raster resolution requested by a caller.
func ValidateDPI(dpi int) error {
	if dpi < 36 || dpi > 1200 {
		return New(ErrCodeBadRequest, "dpi must be between 36 and 1200, got %d", dpi)
	}
	return nil
}

// ValidateID validates an identifier taken from a URL path.
// It rejects empty values, control characters and anything that could escape
// into a query or a file path.
func ValidateID(id string) error {
	if id == "" {
		return New(ErrCodeBadRequest, "id cannot be empty")
	}
	if len(id) > 128 {
		return New(ErrCodeBadRequest, "id too long (max 128 characters)")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeBadRequest, "id contains invalid characters")
		}
	}
	if strings.ContainsAny(id, "/\\$") || strings.Contains(id, "..") {
		return New(ErrCodeBadRequest, "id contains invalid characters")
	}
	return nil
}
