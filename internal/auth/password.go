package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives the bcrypt hash stored on a buyer account.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a login attempt against the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("auth: password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
