package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trafi.io/internal/audit"
	"trafi.io/internal/auth"
	"trafi.io/internal/obs"
	"trafi.io/internal/tenant"
)

// Pinger is anything /readyz can ping, usually the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps wires the HTTP layer to the domain services.
type Deps struct {
	Engine    auth.CredentialEngine
	APIKeys   *auth.APIKeyService
	Members   *tenant.Members
	Records   tenant.Records
	Audit     *audit.Recorder
	AuditLogs audit.Reader
	Ready     ReadyProbe
	Logger    *zap.Logger
	Version   string

	// Routes overrides the default route table.
	Routes auth.RouteTable

	LoginPerSecond float64
	LoginBurst     int

	// TrustedProxies may set X-Forwarded-For; empty means nobody may.
	TrustedProxies TrustedProxies
}

// API: HTTP слой.
type API struct {
	mux      *http.ServeMux
	deps     Deps
	log      *zap.Logger
	chain    *auth.Chain
	validate *validator.Validate
	products *tenant.Repository
	login    *ipLimiter

	readyProbe ReadyProbe
	version    string
}

func New(d Deps) *API {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Routes == nil {
		d.Routes = routeTable
	}
	if d.LoginPerSecond <= 0 {
		d.LoginPerSecond = 1
	}
	if d.LoginBurst <= 0 {
		d.LoginBurst = 5
	}
	a := &API{
		mux:        http.NewServeMux(),
		deps:       d,
		log:        d.Logger,
		chain:      auth.NewChain(d.Routes),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		login:      newIPLimiter(rate.Limit(d.LoginPerSecond), d.LoginBurst),
		readyProbe: d.Ready,
		version:    d.Version,
	}
	if d.Records != nil {
		a.products = tenant.NewRepository(d.Records, "products")
	}
	a.routes()
	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(a.log, h)
	h = a.deps.TrustedProxies.ClientIP(h)
	h = RequestID(h)
	// оборачиваем весь mux метриками
	return obs.Instrument(h)
}

// Close stops the login limiter janitor.
func (a *API) Close() {
	a.login.Stop()
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "trafi-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "trafi-api",
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
