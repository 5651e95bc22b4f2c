package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"trafi.io/internal/audit"
	"trafi.io/internal/auth"
	"trafi.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errBadScheme     = errors.New("invalid authorization scheme")
)

// authenticate resolves the bearer credential and, when the principal names a
// tenant, binds the request context for the rest of the request.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.AuthAttempt("bearer", "missing")
			writeUnauthorized(w, r, err.Error())
			return
		}
		method := "session"
		if auth.IsAPIKey(token) {
			method = "api_key"
		}

		principal, err := a.deps.Engine.Authenticate(r.Context(), token)
		if err != nil {
			obs.AuthAttempt(method, "rejected")
			a.handleAuthError(w, r, err)
			return
		}
		obs.AuthAttempt(method, "ok")

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		if rc, ok := auth.FromPrincipal(principal, RequestIDFromContext(ctx)); ok {
			ctx, err = auth.WithRequestContext(ctx, rc)
			if err != nil {
				a.handleAuthError(w, r, err)
				return
			}
		} else {
			a.log.Warn("principal without tenant", zap.String("kind", string(principal.Kind)))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize runs the guard chain declared for pattern.
func (a *API) authorize(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.chain.Check(r.Context(), pattern); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// audited records state-changing requests once the response is written. The
// entry is queued; the response never waits for it.
func (a *API) audited(pattern string, next http.Handler) http.Handler {
	if a.deps.Audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !audit.ShouldAudit(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		aw := &auditWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(aw, r)
		a.deps.Audit.Log(r.Context(), audit.Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Action:     pattern,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
			StatusCode: aw.code,
			Started:    start,
			Err:        aw.errMsg,
		})
	})
}

// auditWriter captures the status code and the error message written by
// writeError.
type auditWriter struct {
	http.ResponseWriter
	code   int
	wrote  bool
	errMsg string
}

func (w *auditWriter) WriteHeader(code int) {
	if !w.wrote {
		w.code = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *auditWriter) recordError(msg string) { w.errMsg = msg }

func (w *auditWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type errorRecorder interface {
	recordError(msg string)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}
