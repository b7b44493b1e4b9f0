package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Key != "jesi_auth_user" {
		t.Fatalf("unexpected storage key: %s", cfg.Storage.Key)
	}
	if !strings.HasPrefix(cfg.HTTP.Addr, "127.0.0.1:") {
		t.Fatalf("default listener should be loopback only, got %s", cfg.HTTP.Addr)
	}
	if proxies, err := cfg.HTTP.ProxyPrefixes(); err != nil || len(proxies) != 0 {
		t.Fatalf("no proxy should be trusted by default: %v %v", proxies, err)
	}
}

func TestLoadTOML(t *testing.T) {
	for _, k := range []string{"JESI_STORAGE_BACKEND", "JESI_AUTH_LATENCY", "JESI_HTTP_ADDR"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "console.toml")
	body := `
[http]
addr = ":9090"
trusted_proxies = ["10.0.0.0/8", "192.168.1.10"]

[storage]
backend = "sqlite"
sqlite_path = "/var/lib/console/console.db"

[session]
codec = "jwt"
secret = "0123456789abcdef-secret"
ttl = "12h"
latency = "750ms"

[auth]
directory = "postgres"
directory_dsn = "postgres://console@db/console"
passwords = "bcrypt"
second_factor = "totp"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr)
	}
	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil || len(proxies) != 2 || proxies[1].String() != "192.168.1.10/32" {
		t.Fatalf("unexpected proxies: %v %v", proxies, err)
	}
	if cfg.Storage.Backend != StorageSQLite || cfg.Storage.SQLitePath != "/var/lib/console/console.db" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Session.TTL.Duration != 12*time.Hour || cfg.Session.Latency.Duration != 750*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", cfg.Session)
	}
	if cfg.Auth.Passwords != PasswordsBcrypt || cfg.Auth.SecondFactor != SecondFactorTOTP {
		t.Fatalf("unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Storage.Key != "jesi_auth_user" {
		t.Fatalf("defaults should survive a partial file, got key %q", cfg.Storage.Key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"JESI_STORAGE_BACKEND": "redis",
		"JESI_REDIS_ADDR":      "localhost:6379",
		"JESI_REDIS_DB":        "3",
		"JESI_AUTH_LATENCY":    "1s",
		"JESI_HTTP_ADDR":       "  ",
		"JESI_TRUSTED_PROXIES": "10.1.0.0/16, ::1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Storage.Backend != StorageRedis || cfg.Storage.RedisAddr != "localhost:6379" || cfg.Storage.RedisDB != 3 {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Session.Latency.Duration != time.Second {
		t.Fatalf("unexpected latency: %s", cfg.Session.Latency)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("blank env must not override, got %q", cfg.HTTP.Addr)
	}
	if proxies, err := cfg.HTTP.ProxyPrefixes(); err != nil || len(proxies) != 2 {
		t.Fatalf("unexpected proxies: %v %v", proxies, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	env := map[string]string{
		"JESI_REDIS_DB":     "three",
		"JESI_SESSION_TTL":  "forever",
		"JESI_RATE_BURST":   "10",
		"JESI_RATE_PER_SEC": "x",
	}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"JESI_REDIS_DB", "JESI_SESSION_TTL", "JESI_RATE_PER_SEC"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should name %s: %v", name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = StoragePostgres }, "storage.postgres_dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = StorageRedis }, "storage.redis_addr"},
		{"jwt short secret", func(c *Config) { c.Session.Codec = CodecJWT; c.Session.Secret = "short" }, "session.secret"},
		{"unknown codec", func(c *Config) { c.Session.Codec = "gob" }, "session.codec"},
		{"postgres directory without dsn", func(c *Config) { c.Auth.Directory = DirectoryPostgres }, "auth.directory_dsn"},
		{"unknown password mode", func(c *Config) { c.Auth.Passwords = "ldap" }, "auth.passwords"},
		{"unknown second factor", func(c *Config) { c.Auth.SecondFactor = "sms" }, "auth.second_factor"},
		{"zero rate", func(c *Config) { c.RateLimit.PerSecond = 0 }, "rate_limit"},
		{"empty key", func(c *Config) { c.Storage.Key = " " }, "storage.key"},
		{"bad trusted proxy", func(c *Config) { c.HTTP.TrustedProxies = []string{"10.0.0.0/33"} }, "http.trusted_proxies"},
		{"bcrypt with seed accounts", func(c *Config) { c.Auth.Passwords = PasswordsBcrypt }, "auth.passwords"},
		{"totp with seed accounts", func(c *Config) { c.Auth.SecondFactor = SecondFactorTOTP }, "auth.second_factor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected field %s in %v", tc.field, err)
			}
		})
	}
}

func TestDirectoryDSNFallsBackToStorage(t *testing.T) {
	cfg := Default()
	cfg.Storage.PostgresDSN = "postgres://console@db/console"
	cfg.Auth.Directory = DirectoryPostgres
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.DirectoryDSN() != cfg.Storage.PostgresDSN {
		t.Fatalf("unexpected dsn: %s", cfg.DirectoryDSN())
	}

	// The postgres directory holds hashes and secrets, so the stricter modes are accepted.
	cfg.Auth.Passwords = PasswordsBcrypt
	cfg.Auth.SecondFactor = SecondFactorTOTP
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
