// Package config loads console settings: built-in defaults, then an optional
// TOML file, then JESI_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends for the persisted session record.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Record codecs.
const (
	CodecJSON = "json"
	CodecJWT  = "jwt"
)

// Credential checking modes.
const (
	PasswordsShared   = "shared"
	PasswordsBcrypt   = "bcrypt"
	SecondFactorFixed = "fixed"
	SecondFactorTOTP  = "totp"
)

// Account directory backends.
const (
	DirectorySeed     = "seed"
	DirectoryPostgres = "postgres"
)

// Config is the full console configuration.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Storage   StorageConfig   `toml:"storage"`
	Session   SessionConfig   `toml:"session"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// HTTPConfig controls the listener. The console holds a single operator
// session per process, tied to the browser that logged in, so the default
// address is loopback only. Expose it wider only behind a proxy listed in
// TrustedProxies.
type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For header
	// names the client for rate limiting.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. Bare addresses become single-host
// prefixes.
func (h HTTPConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type StorageConfig struct {
	Backend       string   `toml:"backend"`
	Key           string   `toml:"key"`
	Dir           string   `toml:"dir"`
	SQLitePath    string   `toml:"sqlite_path"`
	PostgresDSN   string   `toml:"postgres_dsn"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	RedisTTL      Duration `toml:"redis_ttl"`
}

type SessionConfig struct {
	Codec   string   `toml:"codec"`
	Secret  string   `toml:"secret"`
	TTL     Duration `toml:"ttl"`
	Latency Duration `toml:"latency"`
}

type AuthConfig struct {
	Directory    string `toml:"directory"`
	DirectoryDSN string `toml:"directory_dsn"`
	Passwords    string `toml:"passwords"`
	SecondFactor string `toml:"second_factor"`
	TOTPSkew     uint   `toml:"totp_skew"`
}

// RateLimitConfig bounds login and second-factor attempts per client IP.
type RateLimitConfig struct {
	Burst     int `toml:"burst"`
	PerSecond int `toml:"per_second"`
}

// Duration decodes TOML strings such as "500ms" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the demo configuration: in-memory storage, seeded
// accounts, shared password and fixed code.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Backend:    StorageMemory,
			Key:        "jesi_auth_user",
			Dir:        "data",
			SQLitePath: "console.db",
		},
		Session: SessionConfig{
			Codec: CodecJSON,
		},
		Auth: AuthConfig{
			Directory:    DirectorySeed,
			Passwords:    PasswordsShared,
			SecondFactor: SecondFactorFixed,
			TOTPSkew:     1,
		},
		RateLimit: RateLimitConfig{
			Burst:     10,
			PerSecond: 5,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from JESI_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("JESI_HTTP_ADDR", &c.HTTP.Addr)
	dur("JESI_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	if v, ok := lookup("JESI_TRUSTED_PROXIES"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.TrustedProxies = strings.Split(v, ",")
	}

	str("JESI_STORAGE_BACKEND", &c.Storage.Backend)
	str("JESI_STORAGE_KEY", &c.Storage.Key)
	str("JESI_STORAGE_DIR", &c.Storage.Dir)
	str("JESI_SQLITE_PATH", &c.Storage.SQLitePath)
	str("JESI_PG_DSN", &c.Storage.PostgresDSN)
	str("JESI_REDIS_ADDR", &c.Storage.RedisAddr)
	str("JESI_REDIS_PASSWORD", &c.Storage.RedisPassword)
	integer("JESI_REDIS_DB", &c.Storage.RedisDB)
	dur("JESI_REDIS_TTL", &c.Storage.RedisTTL)

	str("JESI_SESSION_CODEC", &c.Session.Codec)
	str("JESI_SESSION_SECRET", &c.Session.Secret)
	dur("JESI_SESSION_TTL", &c.Session.TTL)
	dur("JESI_AUTH_LATENCY", &c.Session.Latency)

	str("JESI_DIRECTORY", &c.Auth.Directory)
	str("JESI_DIRECTORY_DSN", &c.Auth.DirectoryDSN)
	str("JESI_PASSWORDS", &c.Auth.Passwords)
	str("JESI_SECOND_FACTOR", &c.Auth.SecondFactor)

	integer("JESI_RATE_BURST", &c.RateLimit.Burst)
	integer("JESI_RATE_PER_SEC", &c.RateLimit.PerSecond)

	return errors.Join(errs...)
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks enumerations and the settings each backend needs.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		bad("http.addr", "must not be empty")
	}
	if _, err := c.HTTP.ProxyPrefixes(); err != nil {
		bad("http.trusted_proxies", "%v", err)
	}
	if strings.TrimSpace(c.Storage.Key) == "" {
		bad("storage.key", "must not be empty")
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			bad("storage.dir", "required for the file backend")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			bad("storage.sqlite_path", "required for the sqlite backend")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			bad("storage.postgres_dsn", "required for the postgres backend")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			bad("storage.redis_addr", "required for the redis backend")
		}
	default:
		bad("storage.backend", "invalid backend %q, must be one of: memory, file, sqlite, postgres, redis", c.Storage.Backend)
	}

	switch c.Session.Codec {
	case CodecJSON:
	case CodecJWT:
		if len(strings.TrimSpace(c.Session.Secret)) < 16 {
			bad("session.secret", "jwt codec needs a secret of at least 16 characters")
		}
	default:
		bad("session.codec", "invalid codec %q, must be one of: json, jwt", c.Session.Codec)
	}
	if c.Session.TTL.Duration < 0 || c.Session.Latency.Duration < 0 {
		bad("session", "durations must not be negative")
	}

	switch c.Auth.Directory {
	case DirectorySeed:
	case DirectoryPostgres:
		if c.DirectoryDSN() == "" {
			bad("auth.directory_dsn", "required for the postgres directory")
		}
	default:
		bad("auth.directory", "invalid directory %q, must be one of: seed, postgres", c.Auth.Directory)
	}
	if c.Auth.Passwords != PasswordsShared && c.Auth.Passwords != PasswordsBcrypt {
		bad("auth.passwords", "invalid mode %q, must be one of: shared, bcrypt", c.Auth.Passwords)
	}
	if c.Auth.SecondFactor != SecondFactorFixed && c.Auth.SecondFactor != SecondFactorTOTP {
		bad("auth.second_factor", "invalid mode %q, must be one of: fixed, totp", c.Auth.SecondFactor)
	}
	// Seed accounts carry no password hashes or TOTP secrets.
	if c.Auth.Directory == DirectorySeed {
		if c.Auth.Passwords == PasswordsBcrypt {
			bad("auth.passwords", "bcrypt needs the postgres directory, seed accounts have no hashes")
		}
		if c.Auth.SecondFactor == SecondFactorTOTP {
			bad("auth.second_factor", "totp needs the postgres directory, seed accounts have no secrets")
		}
	}

	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		bad("rate_limit", "burst and per_second must be positive")
	}
	return errors.Join(errs...)
}

// DirectoryDSN falls back to the storage DSN so a single database can hold
// both accounts and the session record.
func (c *Config) DirectoryDSN() string {
	if c.Auth.DirectoryDSN != "" {
		return c.Auth.DirectoryDSN
	}
	return c.Storage.PostgresDSN
}
