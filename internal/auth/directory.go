package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"jesi.ai/console/internal/ids"
)

// Directory is the account lookup the verifier authenticates against.
// Email matching is exact.
type Directory interface {
	Lookup(ctx context.Context, email string) (Account, error)
	RecordLogin(ctx context.Context, email string, at time.Time) (User, error)
}

// DemoAccounts returns the seed accounts of a fresh console install.
func DemoAccounts() []Account {
	return []Account{
		{User: User{
			ID:    "1",
			Email: "admin@jesi.ai",
			Name:  "Super Admin",
			Role:  RoleSuperAdmin,
		}},
		{User: User{
			ID:             "2",
			Email:          "school@example.com",
			Name:           "School Admin",
			Role:           RoleSchoolAdmin,
			OrganizationID: "school-1",
			MFAEnabled:     true,
		}},
	}
}

var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory keeps accounts in process memory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryDirectory builds a directory holding accounts.
func NewMemoryDirectory(accounts ...Account) (*MemoryDirectory, error) {
	d := &MemoryDirectory{accounts: make(map[string]*Account, len(accounts))}
	for _, a := range accounts {
		if err := d.Add(a); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers an account, assigning an id when it has none.
func (d *MemoryDirectory) Add(a Account) error {
	email := a.User.Email
	if strings.TrimSpace(email) == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if _, err := ParseRole(string(a.User.Role)); err != nil {
		return err
	}
	if a.User.ID == "" {
		a.User.ID = ids.New()
	}
	a.User = a.User.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[email]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, email)
	}
	d.accounts[email] = &a
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, email string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	out := *a
	out.User = a.User.Clone()
	return out, nil
}

func (d *MemoryDirectory) RecordLogin(_ context.Context, email string, at time.Time) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[email]
	if !ok {
		return User{}, ErrNotFound
	}
	at = at.UTC()
	a.User.LastLogin = &at
	return a.User.Clone(), nil
}

// Users lists directory users ordered by email.
func (d *MemoryDirectory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, a.User.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
