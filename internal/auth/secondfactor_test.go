package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestTOTPCodes(t *testing.T) {
	secret, url, err := NewTOTPSecret("Jesi Console", "school@example.com")
	if err != nil {
		t.Fatalf("NewTOTPSecret: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatalf("expected secret and url")
	}

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	checker := TOTPCodes{Skew: 1, Now: func() time.Time { return now }}
	account := Account{User: User{Email: "school@example.com"}, TOTPSecret: secret}

	if !checker.CheckCode(account, code) {
		t.Fatalf("expected current code to validate")
	}
	stale := TOTPCodes{Skew: 1, Now: func() time.Time { return now.Add(10 * time.Minute) }}
	if stale.CheckCode(account, code) {
		t.Fatalf("expected code outside skew window to fail")
	}
	if checker.CheckCode(Account{}, code) {
		t.Fatalf("account without secret must fail")
	}
}

func TestFixedCodeRequiresSixCharacters(t *testing.T) {
	c := FixedCode("12345")
	if c.CheckCode(Account{}, "12345") {
		t.Fatalf("five character code must never match")
	}
	if !FixedCode(DemoCode).CheckCode(Account{}, DemoCode) {
		t.Fatalf("expected demo code to match")
	}
}
