package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"jesi.ai/console/internal/auth"
)

func sampleUser() auth.User {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return auth.User{
		ID:             "2",
		Email:          "school@example.com",
		Name:           "School Admin",
		Role:           auth.RoleSchoolAdmin,
		OrganizationID: "school-1",
		LastLogin:      &at,
		MFAEnabled:     true,
	}
}

func TestJSONCodec(t *testing.T) {
	raw, err := JSONCodec{}.Encode(sampleUser())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(raw, `"organization_id":"school-1"`) {
		t.Fatalf("unexpected record: %s", raw)
	}
	u, err := JSONCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if u.Role != auth.RoleSchoolAdmin || u.LastLogin == nil || !u.LastLogin.Equal(*sampleUser().LastLogin) {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := (JSONCodec{}).Decode(`[]`); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestNewJWTCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTCodec("  short  ", 0); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestJWTCodec(t *testing.T) {
	codec, err := NewJWTCodec("0123456789abcdef-secret", 0)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	raw, err := codec.Encode(sampleUser())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	u, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if u.ID != "2" || u.Email != "school@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	other, _ := NewJWTCodec("a-different-secret-value", 0)
	if _, err := other.Decode(raw); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected wrong secret to fail, got %v", err)
	}

	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := codec.Decode(tampered); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected tampered record to fail, got %v", err)
	}
}

func TestJWTCodecExpiry(t *testing.T) {
	codec, err := NewJWTCodec("0123456789abcdef-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return now }

	raw, err := codec.Encode(sampleUser())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(raw); err != nil {
		t.Fatalf("fresh record rejected: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := codec.Decode(raw); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected expired record to fail, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	admin := auth.User{ID: "1", Email: "admin@jesi.ai", Role: auth.RoleSuperAdmin}
	teacher := auth.User{ID: "3", Email: "t@example.com", Role: auth.RoleTeacher}

	cases := []struct {
		name string
		sess Session
		cap  string
		want bool
	}{
		{"logged out", Session{}, auth.CapContentRead, false},
		{"user without authentication", Session{User: &teacher}, auth.CapContentRead, false},
		{"super admin any capability", Session{User: &admin, Authenticated: true}, "anything:at-all", true},
		{"teacher granted", Session{User: &teacher, Authenticated: true}, auth.CapContentCreate, true},
		{"teacher denied", Session{User: &teacher, Authenticated: true}, auth.CapBillingManage, false},
		{"authenticated without user", Session{Authenticated: true}, auth.CapContentRead, false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.sess, tc.cap); got != tc.want {
			t.Fatalf("%s: HasPermission(%q) = %v, want %v", tc.name, tc.cap, got, tc.want)
		}
	}
}
