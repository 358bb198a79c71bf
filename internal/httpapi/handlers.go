package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

const serviceName = "timeoff-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is implemented by the account stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the backing store answers.
type ReadyProbe struct {
	Store   Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	handler    http.Handler
	svc        *auth.Service
	readyProbe readinessChecker
	version    string
	now        func() time.Time

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
	origins      []string
	proxies      []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket. Non-positive values disable it.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBodyBytes = n }
}

// WithAllowedOrigins sets the CORS allow list.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For is
// believed. Without it the peer address is the client.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.proxies = prefixes }
}

// New builds the router for svc.
func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		svc:          svc,
		readyProbe:   rp,
		version:      version,
		now:          time.Now,
		maxBodyBytes: 1 << 20,
		rateBurst:    20,
		ratePerSec:   10,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/account", func(r chi.Router) {
		r.Use(a.withAuth)

		r.Post("/login-to-company-workspace", a.handleSignIn)
		r.Post("/refresh-token", a.handleRefreshToken)
		r.Post("/sign-up", a.handleSignUp)
		r.Get("/is-invite-valid", a.handleIsInviteValid)
		r.Post("/invite", a.handleCreateInvite)
		r.Post("/accept-invite", a.handleAcceptInvite)
		r.Get("/get-authorized", a.handleGetAuthorized)
		r.Post("/update-profile", a.handleUpdateProfile)
		r.Post("/sign-out", a.handleSignOut)
		r.Patch("/update-allowance-timeoff", a.handleUpdateAllowance)
	})

	var h http.Handler = r
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = Recover(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	a.handler = obs.Instrument(h)
	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
