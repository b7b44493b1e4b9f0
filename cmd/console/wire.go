package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jesi.ai/console/internal/auth"
	"jesi.ai/console/internal/config"
	"jesi.ai/console/internal/httpapi"
	"jesi.ai/console/internal/obs"
	"jesi.ai/console/internal/session"
	"jesi.ai/console/internal/storage"
)

// backend is the opened storage plus whatever must be closed on shutdown.
type backend struct {
	kv      storage.KV
	probe   httpapi.Pinger
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (*backend, error) {
	b := &backend{}
	switch cfg.Backend {
	case config.StorageMemory:
		b.kv = storage.NewMemory()
	case config.StorageFile:
		kv, err := storage.NewFile(cfg.Dir)
		if err != nil {
			return nil, err
		}
		b.kv = kv
	case config.StorageSQLite, config.StoragePostgres:
		var (
			db      *sql.DB
			dialect storage.Dialect
			err     error
		)
		if cfg.Backend == config.StorageSQLite {
			db, err = storage.OpenSQLite(cfg.SQLitePath)
			dialect = storage.SQLite
		} else {
			db, err = storage.OpenPostgres(cfg.PostgresDSN)
			dialect = storage.Postgres
		}
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		kv := storage.NewSQL(db, dialect)
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		b.kv, b.probe = kv, kv
	case config.StorageRedis:
		client, err := storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("dial redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		kv := storage.NewRedis(client, "", cfg.RedisTTL.Duration)
		b.kv, b.probe = kv, kv
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return b, nil
}

func openDirectory(cfg *config.Config) (auth.Directory, func() error, error) {
	switch cfg.Auth.Directory {
	case config.DirectoryPostgres:
		db, err := storage.OpenPostgres(cfg.DirectoryDSN())
		if err != nil {
			return nil, nil, err
		}
		return auth.NewPGDirectory(db), db.Close, nil
	default:
		dir, err := auth.NewMemoryDirectory(auth.DemoAccounts()...)
		if err != nil {
			return nil, nil, err
		}
		return dir, func() error { return nil }, nil
	}
}

func verifierOptions(cfg config.AuthConfig) []auth.VerifierOption {
	var opts []auth.VerifierOption
	if cfg.Passwords == config.PasswordsBcrypt {
		opts = append(opts, auth.WithPasswordChecker(auth.BcryptPasswords{}))
	}
	if cfg.SecondFactor == config.SecondFactorTOTP {
		opts = append(opts, auth.WithCodeChecker(auth.TOTPCodes{Skew: cfg.TOTPSkew}))
	}
	return opts
}

func storeOptions(cfg *config.Config) ([]session.Option, error) {
	opts := []session.Option{
		session.WithStorageKey(cfg.Storage.Key),
		session.WithLatency(cfg.Session.Latency.Duration),
	}
	if cfg.Session.Codec == config.CodecJWT {
		codec, err := session.NewJWTCodec(cfg.Session.Secret, cfg.Session.TTL.Duration)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithCodec(codec))
	}
	return opts, nil
}

// build wires storage, directory, verifier and store into the HTTP API.
func build(ctx context.Context, cfg *config.Config) (*httpapi.API, func() error, error) {
	b, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	dir, closeDir, err := openDirectory(cfg)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	b.closers = append(b.closers, closeDir)

	verifier, err := auth.NewVerifier(dir, verifierOptions(cfg.Auth)...)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	opts, err := storeOptions(cfg)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	store, err := session.NewStore(ctx, verifier, b.kv, opts...)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	obs.Info("session store ready", map[string]any{
		"storage": cfg.Storage.Backend,
		"codec":   cfg.Session.Codec,
		"stage":   store.Stage(),
	})

	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil {
		_ = b.Close()
		return nil, nil, fmt.Errorf("trusted proxies: %w", err)
	}

	api := httpapi.New(store, version,
		httpapi.WithReadyProbe(httpapi.ReadyProbe{Storage: b.probe}),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithTrustedProxies(proxies...),
		httpapi.WithOwnerStorage(b.kv, cfg.Storage.Key+"_owner"),
	)
	cleanup := func() error {
		api.Close()
		return b.Close()
	}
	return api, cleanup, nil
}
