package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes pwd with bcrypt at cost.
func HashPassword(pwd string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether pwd matches hash.
func CheckPassword(hash, pwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd)) == nil
}
