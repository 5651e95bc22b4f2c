package httpapi

import (
	"fmt"
	"net/http"

	"trafi.io/internal/auth"
	"trafi.io/internal/tenant"
)

type inviteUserRequest struct {
	Email    string    `json:"email" validate:"required,email"`
	Role     auth.Role `json:"role" validate:"required,oneof=VIEWER EDITOR ADMIN OWNER"`
	Password string    `json:"password" validate:"omitempty,min=8"`
}

type changeRoleRequest struct {
	Role auth.Role `json:"role" validate:"required,oneof=VIEWER EDITOR ADMIN OWNER"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Members.List(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteUserRequest
	if !a.bind(w, r, &req) {
		return
	}
	user, err := a.deps.Members.Invite(r.Context(), tenant.InviteInput{
		Email:    req.Email,
		Role:     req.Role,
		Password: req.Password,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	user, err := a.deps.Members.ChangeRole(r.Context(), r.PathValue("id"), req.Role)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.deps.Members.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
