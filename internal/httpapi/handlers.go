package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"jesi.ai/console/internal/obs"
	"jesi.ai/console/internal/session"
	"jesi.ai/console/internal/storage"
)

// Pinger is satisfied by *sql.DB and the networked storage backends.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe checks the storage backend before the console reports ready.
type ReadyProbe struct {
	Storage Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Storage == nil {
		return nil
	}
	return rp.Storage.PingContext(ctx)
}

// API is the console HTTP layer over one session store.
type API struct {
	mux        *http.ServeMux
	store      *session.Store
	guard      *Guard
	readyProbe ReadyProbe
	version    string
	rateBurst  int
	ratePerSec int
	proxies    []netip.Prefix
	guardOpts  []GuardOption
}

// Option configures the API.
type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithRateLimit bounds login and second-factor submissions per client IP.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lets requests arriving from these networks name the
// client in X-Forwarded-For. Other peers are keyed by their own address.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append(a.proxies, prefixes...) }
}

// WithOwnerStorage persists the session owner token alongside the session.
func WithOwnerStorage(kv storage.KV, key string) Option {
	return func(a *API) { a.guardOpts = append(a.guardOpts, PersistOwner(kv, key)) }
}

func New(store *session.Store, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		store:      store,
		version:    version,
		rateBurst:  10,
		ratePerSec: 5,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.guard = NewGuard(store, a.guardOpts...)
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.rateBurst, a.ratePerSec, a.proxies...)
	}
	a.mux.Handle("/v1/auth/login", limited(a.handleLogin))
	a.mux.Handle("/v1/auth/mfa", limited(a.handleVerifySecondFactor))
	a.mux.HandleFunc("/v1/auth/mfa/cancel", a.handleCancelSecondFactor)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/session", a.handleSession)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermission)
	a.mux.HandleFunc("/login", a.handleLoginView)

	a.mux.Handle("/console", a.guard.RequireSession(http.HandlerFunc(a.handleDashboard)))
	for _, sec := range Sections() {
		a.mux.Handle(sec.Path, a.guard.RequirePermission(sec.Capability, a.sectionHandler(sec)))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler wraps the mux with the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	return RequestID(h)
}

// Close detaches the route guard from the store.
func (a *API) Close() {
	a.guard.Close()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "jesi-console",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "jesi-console",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
