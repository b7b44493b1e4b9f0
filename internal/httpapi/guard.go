package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"jesi.ai/console/internal/auth"
	"jesi.ai/console/internal/session"
	"jesi.ai/console/internal/storage"
)

// LoginPath is where unauthenticated navigation is sent.
const LoginPath = "/login"

// Guard protects console views. It follows the store through a
// subscription, so each navigation reads the latest session without
// touching the store's locks. Only the client holding OwnerCookie sees
// the session; every other client is logged out.
type Guard struct {
	current     atomic.Pointer[session.Session]
	owner       owner
	unsubscribe func()
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// PersistOwner stores the owner token under key so a session restored
// after a restart stays with the client that opened it.
func PersistOwner(kv storage.KV, key string) GuardOption {
	return func(g *Guard) {
		g.owner.kv = kv
		g.owner.key = key
	}
}

func NewGuard(store *session.Store, opts ...GuardOption) *Guard {
	g := &Guard{}
	for _, opt := range opts {
		opt(g)
	}
	initial := store.Current()
	g.current.Store(&initial)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	g.owner.restore(ctx, initial.Authenticated)
	cancel()

	g.unsubscribe = store.Subscribe(func(s session.Session) {
		prev := g.current.Swap(&s)
		if prev != nil && prev.Authenticated && !s.Authenticated {
			g.owner.release(context.Background())
		}
	})
	return g
}

// Session returns the latest session the guard has seen.
func (g *Guard) Session() session.Session {
	return *g.current.Load()
}

// SessionFor returns the session as seen by the client behind r.
func (g *Guard) SessionFor(r *http.Request) session.Session {
	if !g.owner.holds(r) {
		return session.Session{}
	}
	return g.Session()
}

// Close stops following the store.
func (g *Guard) Close() {
	g.unsubscribe()
}

// RequireSession redirects to LoginPath unless the session is authenticated.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return g.RequirePermission("", next)
}

// RequirePermission redirects unauthenticated requests, and requests from
// any client other than the session owner, to LoginPath. It answers 403
// when capability is set and not granted. The user is attached to the
// request context for downstream handlers and audit.
func (g *Guard) RequirePermission(capability string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := g.SessionFor(r)
		if !s.Authenticated || s.User == nil {
			target := LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		if capability != "" && !session.HasPermission(s, capability) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"view":       "access_denied",
				"error":      "access denied",
				"capability": capability,
				"role":       s.User.Role,
				"request_id": RequestIDFromContext(r.Context()),
			})
			return
		}
		ctx := auth.ContextWithUser(r.Context(), s.User.ID, s.User.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
