package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between SQL backends.
type Dialect struct {
	Name   string
	Schema string
	Get    string
	Put    string
	Delete string
}

var (
	Postgres = Dialect{
		Name: "postgres",
		Schema: `create table if not exists console_kv (
			key text primary key,
			value text not null,
			updated_at timestamptz not null default now()
		)`,
		Get: `select value from console_kv where key=$1`,
		Put: `insert into console_kv(key, value, updated_at) values($1,$2,now())
			on conflict (key) do update set value=excluded.value, updated_at=now()`,
		Delete: `delete from console_kv where key=$1`,
	}

	SQLite = Dialect{
		Name: "sqlite",
		Schema: `create table if not exists console_kv (
			key text primary key,
			value text not null,
			updated_at text not null default current_timestamp
		)`,
		Get: `select value from console_kv where key=?`,
		Put: `insert into console_kv(key, value, updated_at) values(?,?,current_timestamp)
			on conflict (key) do update set value=excluded.value, updated_at=current_timestamp`,
		Delete: `delete from console_kv where key=?`,
	}
)

var _ KV = (*SQL)(nil)

// SQL stores values in the console_kv table.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenSQLite opens a single-writer SQLite database file.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return db, nil
}

func (s *SQL) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates console_kv when it does not exist.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("%s: create console_kv: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQL) Read(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.dialect.Get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQL) Write(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Put, key, value)
	return err
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Delete, key)
	return err
}
