package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Verifier checks first and second factors against a Directory.
type Verifier struct {
	dir       Directory
	passwords PasswordChecker
	codes     CodeChecker
	now       func() time.Time
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithPasswordChecker replaces the shared demo password.
func WithPasswordChecker(p PasswordChecker) VerifierOption {
	return func(v *Verifier) {
		if p != nil {
			v.passwords = p
		}
	}
}

// WithCodeChecker replaces the fixed demo code.
func WithCodeChecker(c CodeChecker) VerifierOption {
	return func(v *Verifier) {
		if c != nil {
			v.codes = c
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier defaults to SharedPassword(DemoPassword) and FixedCode(DemoCode).
func NewVerifier(dir Directory, opts ...VerifierOption) (*Verifier, error) {
	if dir == nil {
		return nil, errors.New("account directory is required")
	}
	v := &Verifier{
		dir:       dir,
		passwords: SharedPassword(DemoPassword),
		codes:     FixedCode(DemoCode),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// CheckPassword returns the account when email exists and password matches.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (v *Verifier) CheckPassword(ctx context.Context, email, password string) (Account, error) {
	a, err := v.lookup(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if !v.passwords.CheckPassword(a, password) {
		return Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// CheckCode returns the account when code completes its second factor.
// Unknown email, accounts without a second factor and wrong codes all
// yield ErrInvalidVerificationCode.
func (v *Verifier) CheckCode(ctx context.Context, email, code string) (Account, error) {
	a, err := v.lookup(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrInvalidVerificationCode
	}
	if err != nil {
		return Account{}, err
	}
	if !a.User.MFAEnabled || !v.codes.CheckCode(a, code) {
		return Account{}, ErrInvalidVerificationCode
	}
	return a, nil
}

// RecordLogin stamps the account's last login with the current time.
func (v *Verifier) RecordLogin(ctx context.Context, email string) (User, error) {
	u, err := v.dir.RecordLogin(ctx, email, v.now())
	if err != nil {
		return User{}, fmt.Errorf("record login: %w", err)
	}
	return u, nil
}

func (v *Verifier) lookup(ctx context.Context, email string) (Account, error) {
	a, err := v.dir.Lookup(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return a, err
}
