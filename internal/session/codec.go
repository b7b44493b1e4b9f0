package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"jesi.ai/console/internal/auth"
)

// ErrCorruptRecord means a persisted user record could not be trusted.
var ErrCorruptRecord = errors.New("session: corrupt persisted record")

// Codec serializes the logged-in user for the storage backend.
type Codec interface {
	Encode(u auth.User) (string, error)
	Decode(raw string) (auth.User, error)
}

// JSONCodec stores the user as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(u auth.User) (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (JSONCodec) Decode(raw string) (auth.User, error) {
	var u auth.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return auth.User{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := validateUser(u); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

const recordIssuer = "jesi-console"

type recordClaims struct {
	User auth.User `json:"user"`
	jwt.RegisteredClaims
}

// JWTCodec signs the record with HS256 so edits to stored state are
// detected. With a positive TTL the record also expires.
type JWTCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTCodec(secret string, ttl time.Duration) (*JWTCodec, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 16 {
		return nil, errors.New("session record secret must be at least 16 characters")
	}
	return &JWTCodec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (c *JWTCodec) Encode(u auth.User) (string, error) {
	now := c.now().UTC()
	claims := recordClaims{
		User: u,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   recordIssuer,
			Subject:  u.ID,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session record: %w", err)
	}
	return signed, nil
}

func (c *JWTCodec) Decode(raw string) (auth.User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(recordIssuer),
		jwt.WithTimeFunc(c.now),
	}
	if c.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	var claims recordClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return auth.User{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if claims.Subject != claims.User.ID {
		return auth.User{}, fmt.Errorf("%w: subject mismatch", ErrCorruptRecord)
	}
	if err := validateUser(claims.User); err != nil {
		return auth.User{}, err
	}
	return claims.User, nil
}

func validateUser(u auth.User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: missing identity", ErrCorruptRecord)
	}
	if _, err := auth.ParseRole(string(u.Role)); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return nil
}
