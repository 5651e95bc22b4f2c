package httpapi

import (
	"net/http"

	"trafi.io/internal/audit"
)

func (a *API) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.deps.AuditLogs == nil {
		writeError(w, r, http.StatusNotImplemented, "audit log reader not configured")
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	entries, err := audit.List(r.Context(), a.deps.AuditLogs, audit.Query{
		Resource: q.Get("resource"),
		UserID:   q.Get("userId"),
		Limit:    limit,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"auditLogs": entries})
}
