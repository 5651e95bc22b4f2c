package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

type createAPIKeyRequest struct {
	Name      string            `json:"name" validate:"required,max=100"`
	Scopes    []auth.Permission `json:"scopes" validate:"dive,required"`
	ExpiresAt *time.Time        `json:"expiresAt"`
}

func (a *API) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	storeID, err := tenant.ResolveTenant(r.Context(), "")
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	keys, err := a.deps.APIKeys.List(r.Context(), storeID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"apiKeys": keys})
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !a.bind(w, r, &req) {
		return
	}
	storeID, err := tenant.ResolveTenant(r.Context(), "")
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	created, err := a.deps.APIKeys.Create(r.Context(), storeID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.log.Info("api key created",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("store_id", storeID),
		zap.String("api_key_id", created.ID),
		zap.String("key_prefix", created.KeyPrefix),
	)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.apiKeyOfTenant(r)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (a *API) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.apiKeyOfTenant(r)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if err := a.deps.APIKeys.Revoke(r.Context(), key.StoreID, key.ID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) apiKeyOfTenant(r *http.Request) (auth.APIKey, error) {
	storeID, err := tenant.ResolveTenant(r.Context(), "")
	if err != nil {
		return auth.APIKey{}, err
	}
	key, err := a.deps.APIKeys.Get(r.Context(), storeID, r.PathValue("id"))
	if err != nil {
		return auth.APIKey{}, err
	}
	if err := tenant.ValidateOwnership(r.Context(), key); err != nil {
		return auth.APIKey{}, err
	}
	return key, nil
}
