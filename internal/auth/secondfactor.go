package auth

import (
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DemoCode is the code FixedCode accepts for every account.
	DemoCode = "123456"

	codeLength = 6
)

// CodeChecker decides whether code completes the second factor for account.
type CodeChecker interface {
	CheckCode(account Account, code string) bool
}

// FixedCode accepts a single six-character code. Demo deployments only.
type FixedCode string

func (c FixedCode) CheckCode(_ Account, code string) bool {
	if len(code) != codeLength {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1
}

// TOTPCodes validates RFC 6238 codes against the account's TOTP secret.
type TOTPCodes struct {
	// Skew is the number of 30s periods accepted either side of now.
	Skew uint
	Now  func() time.Time
}

func (c TOTPCodes) CheckCode(account Account, code string) bool {
	if account.TOTPSecret == "" || len(code) != codeLength {
		return false
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ok, err := totp.ValidateCustom(code, account.TOTPSecret, now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      c.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// NewTOTPSecret provisions a secret and the otpauth:// URL for enrolment.
func NewTOTPSecret(issuer, email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
