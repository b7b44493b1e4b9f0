package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jesi.ai/console/internal/ids"
)

var _ Directory = (*PGDirectory)(nil)

// PGDirectory implements Directory over the console_users table.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

const userColumns = `id, email, name, role, organization_id, last_login, mfa_enabled`

func (d *PGDirectory) Lookup(ctx context.Context, email string) (Account, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+userColumns+`, password_hash, totp_secret from console_users where email=$1`, email)
	var (
		a      Account
		hash   sql.NullString
		secret sql.NullString
	)
	u, err := scanUser(row, &hash, &secret)
	if err != nil {
		return Account{}, err
	}
	a.User = u
	a.PasswordHash = hash.String
	a.TOTPSecret = secret.String
	return a, nil
}

func (d *PGDirectory) RecordLogin(ctx context.Context, email string, at time.Time) (User, error) {
	row := d.db.QueryRowContext(ctx,
		`update console_users set last_login=$1, updated_at=now() where email=$2 returning `+userColumns,
		at.UTC(), email)
	return scanUser(row)
}

// Upsert inserts or replaces an account keyed by email.
func (d *PGDirectory) Upsert(ctx context.Context, a Account) error {
	if _, err := ParseRole(string(a.User.Role)); err != nil {
		return err
	}
	if a.User.ID == "" {
		a.User.ID = ids.New()
	}
	_, err := d.db.ExecContext(ctx,
		`insert into console_users(id, email, name, role, organization_id, mfa_enabled, password_hash, totp_secret)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (email) do update set name=excluded.name, role=excluded.role,
		   organization_id=excluded.organization_id, mfa_enabled=excluded.mfa_enabled,
		   password_hash=excluded.password_hash, totp_secret=excluded.totp_secret, updated_at=now()`,
		a.User.ID, a.User.Email, a.User.Name, string(a.User.Role), nullString(a.User.OrganizationID),
		a.User.MFAEnabled, nullString(a.PasswordHash), nullString(a.TOTPSecret),
	)
	return err
}

func scanUser(row *sql.Row, extra ...any) (User, error) {
	var (
		u         User
		role      string
		org       sql.NullString
		lastLogin sql.NullTime
	)
	dest := append([]any{&u.ID, &u.Email, &u.Name, &role, &org, &lastLogin, &u.MFAEnabled}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Role = parsed
	u.OrganizationID = org.String
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
