package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DemoPassword is accepted for every account by SharedPassword.
const DemoPassword = "password"

// PasswordChecker decides whether password is the first factor for account.
type PasswordChecker interface {
	CheckPassword(account Account, password string) bool
}

// SharedPassword accepts one password for all accounts. Demo deployments only.
type SharedPassword string

func (p SharedPassword) CheckPassword(_ Account, password string) bool {
	return subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
}

// BcryptPasswords compares against the account's stored bcrypt hash.
type BcryptPasswords struct{}

func (BcryptPasswords) CheckPassword(account Account, password string) bool {
	return VerifyPassword(account.PasswordHash, password) == nil
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
