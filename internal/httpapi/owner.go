package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"jesi.ai/console/internal/obs"
	"jesi.ai/console/internal/storage"
)

// Cookies that tie one HTTP client to the process-wide session. Requests
// without OwnerCookie are treated as logged out; only the holder of
// PendingCookie may finish or cancel a second-factor login.
const (
	OwnerCookie   = "jesi_console"
	PendingCookie = "jesi_console_pending"
)

// owner tracks which client holds the session and which one started the
// pending login. The session token is optionally persisted so a restored
// session keeps its client.
type owner struct {
	mu      sync.Mutex
	token   string
	pending string
	kv      storage.KV
	key     string
}

// restore loads a persisted token. A token without a live session is stale
// and removed.
func (o *owner) restore(ctx context.Context, live bool) {
	if o.kv == nil {
		return
	}
	if !live {
		o.forget(ctx)
		return
	}
	token, err := o.kv.Read(ctx, o.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			obs.Error("read session owner failed", map[string]any{"key": o.key, "error": err.Error()})
		}
		return
	}
	o.mu.Lock()
	o.token = token
	o.mu.Unlock()
}

// bind hands the session to the client behind r and ends its pending
// login. Any previous holder loses access.
func (o *owner) bind(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	o.mu.Lock()
	o.token = token
	o.pending = ""
	o.mu.Unlock()
	if o.kv != nil {
		if err := o.kv.Write(ctx, o.key, token); err != nil {
			obs.Error("persist session owner failed", map[string]any{"key": o.key, "error": err.Error()})
		}
	}
	setCookie(w, r, OwnerCookie, token)
	expireCookie(w, PendingCookie)
}

// bindPending hands the pending login to the client behind r. The session
// itself, if any, stays with its holder.
func (o *owner) bindPending(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	o.mu.Lock()
	o.pending = token
	o.mu.Unlock()
	setCookie(w, r, PendingCookie, token)
}

func (o *owner) clearPending() {
	o.mu.Lock()
	o.pending = ""
	o.mu.Unlock()
}

// release ends both the session binding and any pending login.
func (o *owner) release(ctx context.Context) {
	o.mu.Lock()
	held := o.token != ""
	o.token = ""
	o.pending = ""
	o.mu.Unlock()
	if held {
		o.forget(ctx)
	}
}

func (o *owner) forget(ctx context.Context) {
	if o.kv == nil {
		return
	}
	if err := o.kv.Remove(ctx, o.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		obs.Error("remove session owner failed", map[string]any{"key": o.key, "error": err.Error()})
	}
}

// holds reports whether r carries the current session token.
func (o *owner) holds(r *http.Request) bool {
	o.mu.Lock()
	token := o.token
	o.mu.Unlock()
	return carries(r, OwnerCookie, token)
}

// holdsPending reports whether r started the pending login.
func (o *owner) holdsPending(r *http.Request) bool {
	o.mu.Lock()
	token := o.pending
	o.mu.Unlock()
	return carries(r, PendingCookie, token)
}

// foreign reports whether a session token is issued and r does not carry it.
func (o *owner) foreign(r *http.Request) bool {
	o.mu.Lock()
	bound := o.token != ""
	o.mu.Unlock()
	return bound && !o.holds(r)
}

// foreignPending reports whether a pending login exists that r did not start.
func (o *owner) foreignPending(r *http.Request) bool {
	o.mu.Lock()
	bound := o.pending != ""
	o.mu.Unlock()
	return bound && !o.holdsPending(r)
}

func carries(r *http.Request, name, token string) bool {
	if token == "" {
		return false
	}
	c, err := r.Cookie(name)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(token)) == 1
}

func setCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}
