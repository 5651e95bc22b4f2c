package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"trafi.io/internal/tenant"
)

// Products are generic tenant records; the list endpoint accepts
// ?field.<name>=<value> filters on top-level data keys.
const fieldFilterPrefix = "field."

type productRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, r, http.StatusNotImplemented, "records store not configured")
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	fields := map[string]string{}
	for key, vals := range q {
		if name, ok := strings.CutPrefix(key, fieldFilterPrefix); ok && len(vals) > 0 {
			fields[name] = vals[0]
		}
	}
	recs, err := a.products.List(r.Context(), fields, limit)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if recs == nil {
		recs = []tenant.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": recs})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, r, http.StatusNotImplemented, "records store not configured")
		return
	}
	var req productRequest
	if !a.bind(w, r, &req) {
		return
	}
	rec, err := a.products.Create(r.Context(), req.Data)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/products/%s", rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, r, http.StatusNotImplemented, "records store not configured")
		return
	}
	rec, err := a.products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, r, http.StatusNotImplemented, "records store not configured")
		return
	}
	var req productRequest
	if !a.bind(w, r, &req) {
		return
	}
	rec, err := a.products.Update(r.Context(), r.PathValue("id"), req.Data)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, r, http.StatusNotImplemented, "records store not configured")
		return
	}
	if err := a.products.Delete(r.Context(), r.PathValue("id")); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
