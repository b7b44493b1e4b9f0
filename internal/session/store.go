package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"jesi.ai/console/internal/audit"
	"jesi.ai/console/internal/auth"
	"jesi.ai/console/internal/obs"
	"jesi.ai/console/internal/storage"
)

// DefaultStorageKey is where the logged-in user is persisted.
const DefaultStorageKey = "jesi_auth_user"

// Store owns the console session. All mutation goes through its methods.
// Authentication steps are serialized: at most one is in flight.
type Store struct {
	verifier *auth.Verifier
	kv       storage.KV
	codec    Codec
	key      string
	latency  time.Duration

	// ops serializes Authenticate, VerifySecondFactor and Logout.
	ops sync.Mutex

	mu        sync.Mutex
	state     Session
	pending   string
	listeners []listenerEntry
	nextID    uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Option configures Store behavior.
type Option func(*Store)

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithCodec replaces the JSON record format.
func WithCodec(c Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithLatency delays every authentication step, standing in for a remote call.
func WithLatency(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.latency = d
		}
	}
}

// NewStore builds a store and restores a persisted session if one is valid.
// A missing, unreadable or corrupt record leaves the store logged out.
func NewStore(ctx context.Context, verifier *auth.Verifier, kv storage.KV, opts ...Option) (*Store, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if kv == nil {
		return nil, errors.New("storage is required")
	}
	s := &Store{
		verifier: verifier,
		kv:       kv,
		codec:    JSONCodec{},
		key:      DefaultStorageKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore(ctx)
	return s, nil
}

func (s *Store) restore(ctx context.Context) {
	raw, err := s.kv.Read(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		obs.ObserveRestore("empty")
		obs.SetAuthenticated(false)
		return
	}
	if err != nil {
		obs.Warn("session restore read failed", map[string]any{"key": s.key, "error": err.Error()})
		obs.ObserveRestore("error")
		obs.SetAuthenticated(false)
		return
	}
	u, err := s.codec.Decode(raw)
	if err != nil {
		obs.Warn("discarding corrupt persisted session", map[string]any{"key": s.key, "error": err.Error()})
		if rmErr := s.kv.Remove(ctx, s.key); rmErr != nil {
			obs.Error("remove corrupt session failed", map[string]any{"key": s.key, "error": rmErr.Error()})
		}
		_ = audit.LogEvent(ctx, audit.EventSessionDiscarded, map[string]any{"key": s.key})
		obs.ObserveRestore("discarded")
		obs.SetAuthenticated(false)
		return
	}
	s.state = Session{User: &u, Authenticated: true}
	_ = audit.LogEvent(auth.ContextWithUser(ctx, u.ID, u.Role), audit.EventSessionRestored, map[string]any{"email": u.Email})
	obs.ObserveRestore("restored")
	obs.SetAuthenticated(true)
}

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Stage reports where the login flow stands.
func (s *Store) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.Authenticated:
		return StageLoggedIn
	case s.pending != "":
		return StageAwaitingSecondFactor
	default:
		return StageLoggedOut
	}
}

// Pending returns the email awaiting a second factor, if any.
func (s *Store) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.pending != ""
}

// HasPermission checks capability against the current session.
func (s *Store) HasPermission(capability string) bool {
	return HasPermission(s.Current(), capability)
}

// Authenticate checks email and password. Accounts with a second factor
// are left pending and the session stays unauthenticated.
func (s *Store) Authenticate(ctx context.Context, email, password string) Outcome {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.setLoading(true)
	defer s.setLoading(false)
	s.pause()

	a, err := s.verifier.CheckPassword(ctx, email, password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			obs.Error("password check failed", map[string]any{"error": err.Error()})
		}
		obs.ObserveAuthAttempt("password", "failure")
		_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{"email": email})
		return failure(ReasonInvalidCredentials)
	}

	if a.User.MFAEnabled {
		s.mu.Lock()
		s.pending = a.User.Email
		s.mu.Unlock()
		obs.ObserveAuthAttempt("password", "second_factor_required")
		_ = audit.LogEvent(ctx, audit.EventMFARequired, map[string]any{"email": a.User.Email})
		return Outcome{Status: StatusSecondFactorRequired}
	}

	obs.ObserveAuthAttempt("password", "success")
	return s.complete(ctx, a.User.Email, "password", ReasonInvalidCredentials)
}

// VerifySecondFactor completes a pending login. The email must match the
// pending record; anything else fails without touching it. A wrong code
// keeps the pending record for another try.
func (s *Store) VerifySecondFactor(ctx context.Context, email, code string) Outcome {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.setLoading(true)
	defer s.setLoading(false)
	s.pause()

	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	a, err := s.verifier.CheckCode(ctx, email, code)
	if err == nil && (pending == "" || a.User.Email != pending) {
		err = auth.ErrInvalidVerificationCode
	}
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidVerificationCode) {
			obs.Error("second factor check failed", map[string]any{"error": err.Error()})
		}
		obs.ObserveAuthAttempt("mfa", "failure")
		_ = audit.LogEvent(ctx, audit.EventMFAFailed, map[string]any{"email": email})
		return failure(ReasonInvalidCode)
	}

	obs.ObserveAuthAttempt("mfa", "success")
	return s.complete(ctx, a.User.Email, "mfa", ReasonInvalidCode)
}

// CancelSecondFactor drops the pending record and returns to credential entry.
func (s *Store) CancelSecondFactor(ctx context.Context) {
	s.mu.Lock()
	email := s.pending
	s.pending = ""
	s.mu.Unlock()
	if email != "" {
		_ = audit.LogEvent(ctx, audit.EventMFACancelled, map[string]any{"email": email})
	}
}

// Logout clears the session and the persisted record. Listeners are
// notified even when nobody was logged in.
func (s *Store) Logout(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	prev := s.state.User
	s.state = Session{}
	s.pending = ""
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := s.kv.Remove(ctx, s.key); err != nil {
		obs.Error("remove persisted session failed", map[string]any{"key": s.key, "error": err.Error()})
	}
	obs.SetAuthenticated(false)
	if prev != nil {
		ctx = auth.ContextWithUser(ctx, prev.ID, prev.Role)
		_ = audit.LogEvent(ctx, audit.EventLogout, map[string]any{"email": prev.Email})
	}
	s.notify(snapshot)
}

// complete stamps the login, authenticates the session, persists and notifies.
func (s *Store) complete(ctx context.Context, email, step, reason string) Outcome {
	u, err := s.verifier.RecordLogin(ctx, email)
	if err != nil {
		obs.Error("record login failed", map[string]any{"step": step, "error": err.Error()})
		return failure(reason)
	}

	s.mu.Lock()
	// Loading clears here, so the deferred setLoading(false) does not notify again.
	s.state = Session{User: &u, Authenticated: true}
	s.pending = ""
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.persist(ctx, u)
	obs.SetAuthenticated(true)
	_ = audit.LogEvent(auth.ContextWithUser(ctx, u.ID, u.Role), audit.EventLoginSucceeded, map[string]any{
		"email": u.Email,
		"step":  step,
	})
	s.notify(snapshot)
	return Outcome{Status: StatusSuccess}
}

// persist failures are logged; the in-memory session stays authenticated.
func (s *Store) persist(ctx context.Context, u auth.User) {
	raw, err := s.codec.Encode(u)
	if err == nil {
		err = s.kv.Write(ctx, s.key, raw)
	}
	if err != nil {
		obs.Error("persist session failed", map[string]any{"key": s.key, "error": err.Error()})
	}
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	if s.state.Loading == loading {
		s.mu.Unlock()
		return
	}
	s.state.Loading = loading
	snapshot := s.state.clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Store) pause() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

// Subscribe registers fn for every change and returns its unsubscribe
// func, which is safe to call repeatedly and from inside fn.
// Listeners run on the mutating goroutine and must not call
// Authenticate, VerifySecondFactor or Logout.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// notify calls a snapshot of the listeners in registration order.
func (s *Store) notify(snapshot Session) {
	s.mu.Lock()
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(snapshot.clone())
	}
}
