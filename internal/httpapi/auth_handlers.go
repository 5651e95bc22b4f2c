package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"trafi.io/internal/auth"
	"trafi.io/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type sessionResponse struct {
	User auth.User `json:"user"`
	auth.TokenPair
}

type meResponse struct {
	auth.RequestContext
	Permissions []auth.Permission `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.bind(w, r, &req) {
		return
	}
	pair, user, err := a.deps.Engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.AuthAttempt("password", "rejected")
		a.handleAuthError(w, r, err)
		return
	}
	obs.AuthAttempt("password", "ok")
	a.log.Info("login",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("user_id", user.ID),
		zap.String("store_id", user.StoreID),
	)
	writeJSON(w, http.StatusOK, sessionResponse{User: user, TokenPair: pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.bind(w, r, &req) {
		return
	}
	pair, user, err := a.deps.Engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		obs.AuthAttempt("refresh", "rejected")
		a.handleAuthError(w, r, err)
		return
	}
	obs.AuthAttempt("refresh", "ok")
	writeJSON(w, http.StatusOK, sessionResponse{User: user, TokenPair: pair})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.handleAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	if p.Kind != auth.PrincipalUser {
		writeError(w, r, http.StatusBadRequest, "api keys have no session to end")
		return
	}
	if err := a.deps.Engine.Logout(r.Context(), p.UserID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	rc, err := auth.RequireCurrent(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	resp := meResponse{RequestContext: rc, Permissions: auth.PermissionsFor(rc.Role)}
	if rc.Kind == auth.PrincipalAPIKey {
		resp.Permissions = rc.Scopes
	}
	if resp.Permissions == nil {
		resp.Permissions = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, resp)
}
