package httpapi

import (
	"net/http"

	"trafi.io/internal/auth"
	"trafi.io/internal/obs"
)

var adminOrOwner = []auth.Role{auth.RoleAdmin, auth.RoleOwner}

// routeTable declares what every route requires. Routes missing from the
// table only require an authenticated caller.
var routeTable = auth.RouteTable{
	"GET /healthz":  {Public: true},
	"GET /readyz":   {Public: true},
	"GET /metrics":  {Public: true},
	"GET /api/info": {Public: true},

	"POST /api/auth/login":   {Public: true},
	"POST /api/auth/refresh": {Public: true},
	"POST /api/auth/logout":  {},
	"GET /api/auth/me":       {},

	"GET /api/api-keys":         {Permissions: []auth.Permission{auth.PermAPIKeysRead}},
	"POST /api/api-keys":        {Roles: adminOrOwner, Permissions: []auth.Permission{auth.PermAPIKeysCreate}},
	"GET /api/api-keys/{id}":    {Permissions: []auth.Permission{auth.PermAPIKeysRead}},
	"DELETE /api/api-keys/{id}": {Roles: adminOrOwner, Permissions: []auth.Permission{auth.PermAPIKeysRevoke}},

	"GET /api/users":                  {Permissions: []auth.Permission{auth.PermUsersRead}},
	"POST /api/users/invite":          {Permissions: []auth.Permission{auth.PermUsersInvite}},
	"PATCH /api/users/{id}/role":      {Permissions: []auth.Permission{auth.PermUsersUpdate}},
	"POST /api/users/{id}/deactivate": {Permissions: []auth.Permission{auth.PermUsersDelete}},

	"GET /api/products":         {Permissions: []auth.Permission{auth.PermProductsRead}},
	"POST /api/products":        {Permissions: []auth.Permission{auth.PermProductsCreate}},
	"GET /api/products/{id}":    {Permissions: []auth.Permission{auth.PermProductsRead}},
	"PATCH /api/products/{id}":  {Permissions: []auth.Permission{auth.PermProductsUpdate}},
	"DELETE /api/products/{id}": {Permissions: []auth.Permission{auth.PermProductsDelete}},

	"GET /api/audit-logs": {Permissions: []auth.Permission{auth.PermAuditRead}},
}

func (a *API) routes() {
	a.handle("GET /healthz", http.HandlerFunc(a.Healthz))
	a.handle("GET /readyz", http.HandlerFunc(a.Ready))
	a.handle("GET /metrics", obs.Handler())
	a.handle("GET /api/info", http.HandlerFunc(a.Info))

	a.handle("POST /api/auth/login", a.login.Wrap(http.HandlerFunc(a.handleLogin)))
	a.handle("POST /api/auth/refresh", a.login.Wrap(http.HandlerFunc(a.handleRefresh)))
	a.handle("POST /api/auth/logout", http.HandlerFunc(a.handleLogout))
	a.handle("GET /api/auth/me", http.HandlerFunc(a.handleMe))

	a.handle("GET /api/api-keys", http.HandlerFunc(a.handleListAPIKeys))
	a.handle("POST /api/api-keys", http.HandlerFunc(a.handleCreateAPIKey))
	a.handle("GET /api/api-keys/{id}", http.HandlerFunc(a.handleGetAPIKey))
	a.handle("DELETE /api/api-keys/{id}", http.HandlerFunc(a.handleRevokeAPIKey))

	a.handle("GET /api/users", http.HandlerFunc(a.handleListUsers))
	a.handle("POST /api/users/invite", http.HandlerFunc(a.handleInviteUser))
	a.handle("PATCH /api/users/{id}/role", http.HandlerFunc(a.handleChangeRole))
	a.handle("POST /api/users/{id}/deactivate", http.HandlerFunc(a.handleDeactivateUser))

	a.handle("GET /api/products", http.HandlerFunc(a.handleListProducts))
	a.handle("POST /api/products", http.HandlerFunc(a.handleCreateProduct))
	a.handle("GET /api/products/{id}", http.HandlerFunc(a.handleGetProduct))
	a.handle("PATCH /api/products/{id}", http.HandlerFunc(a.handleUpdateProduct))
	a.handle("DELETE /api/products/{id}", http.HandlerFunc(a.handleDeleteProduct))

	a.handle("GET /api/audit-logs", http.HandlerFunc(a.handleListAuditLogs))
}

// handle registers h behind the per-route pipeline: authenticate and bind
// the request context, record the audit entry, check the route guards.
func (a *API) handle(pattern string, h http.Handler) {
	if a.chain.Requirement(pattern).Public {
		a.mux.Handle(pattern, h)
		return
	}
	h = a.authorize(pattern, h)
	h = a.audited(pattern, h)
	h = a.authenticate(h)
	a.mux.Handle(pattern, h)
}
