package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"authgate.org/internal/domain"
	"authgate.org/internal/keys"
	"authgate.org/internal/obs"
	"authgate.org/internal/result"
	"authgate.org/internal/token"
	"authgate.org/internal/workflow"
)

const serviceName = "authgate"

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Workflow is the account core served by the API.
type Workflow interface {
	Register(ctx context.Context, req workflow.RegisterRequest) result.Result[domain.UserInfo]
	Login(ctx context.Context, req workflow.LoginRequest) result.Result[workflow.LoginResponse]
	RefreshToken(ctx context.Context, refreshToken string) result.Result[workflow.LoginResponse]
	UserInfo(ctx context.Context, userID string) result.Result[domain.UserInfo]
}

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	Validate(raw string) result.Result[*token.Claims]
}

// KeySet publishes the verification keys.
type KeySet interface {
	JWKS() (keys.JWKSet, error)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	flow      Workflow
	validator TokenValidator
	keys      KeySet
	log       *logrus.Entry

	allowedOrigins []string
	trustedProxies []netip.Prefix
	rateBurst      int
	ratePerMin     int
	maxBodyBytes   int64
}

type Option func(*API)

func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

// WithTrustedProxies lists the proxies whose X-Forwarded-For header is
// believed when keying the rate limiter.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithRateLimit sets the per-client budget; non-positive values keep defaults.
func WithRateLimit(perMinute, burst int) Option {
	return func(a *API) {
		if perMinute > 0 {
			a.ratePerMin = perMinute
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

func New(rp readinessChecker, version string, flow Workflow, validator TokenValidator, ks KeySet, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		flow:         flow,
		validator:    validator,
		keys:         ks,
		log:          obs.Component("httpapi"),
		rateBurst:    10,
		ratePerMin:   100,
		maxBodyBytes: 1 << 20,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/api/health", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/refresh-token", a.handleRefresh)
	a.mux.Handle("/api/auth/me", a.withAuth(http.HandlerFunc(a.handleMe)))
	a.mux.HandleFunc("/api/jwks/publish-key", a.handleJWKS)
	a.mux.HandleFunc("/.well-known/jwks.json", a.handleJWKS)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerMin, a.trustedProxies...)
	h = CORS(a.allowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "dependency unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

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

// writeFailure renders a failed result with a status chosen by its code.
func writeFailure[T any](w http.ResponseWriter, r *http.Request, res result.Result[T]) {
	payload := map[string]any{
		"error": res.Message(),
		"code":  res.Code(),
	}
	if errs := res.ValidationErrors(); len(errs) > 0 {
		payload["errors"] = errs
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, statusFor(res.Code()), payload)
}

func statusFor(code result.Code) int {
	switch code {
	case result.CodeValidation:
		return http.StatusBadRequest
	case result.CodeConflict:
		return http.StatusConflict
	case result.CodeUnauthorized, result.CodeLocked, result.CodeNotFound,
		result.CodeTokenMalformed, result.CodeTokenSignature, result.CodeTokenExpired,
		result.CodeTokenIssuer, result.CodeTokenAudience, result.CodeTokenClaims:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
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
