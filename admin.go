package sitekeeper

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminAPI provides REST endpoints for managing sites at runtime:
// listing and inspecting site state, creating, enabling, disabling, and
// deleting sites, and applying or renewing TLS.
//
// The API is mounted at a configurable path prefix (default "/api") and
// uses [chi] for routing. All endpoints return JSON with status codes
// mapped from the lifecycle error taxonomy.
type AdminAPI struct {
	// Lifecycle is the site manager being driven.
	Lifecycle *Lifecycle

	// Logger for admin API events.
	Logger *slog.Logger

	// PathPrefix is the URL path prefix for admin routes (default "/api").
	PathPrefix string

	// Metrics, when set, is exposed at GET /metrics in Prometheus
	// exposition format.
	Metrics *Metrics

	router chi.Router
}

// NewAdminAPI creates an AdminAPI wired to the given lifecycle.
func NewAdminAPI(lc *Lifecycle) *AdminAPI {
	a := &AdminAPI{
		Lifecycle:  lc,
		Logger:     slog.Default(),
		PathPrefix: "/api",
	}
	a.buildRouter()
	return a
}

func (a *AdminAPI) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/status", a.handleStatus)
	r.Get("/sites", a.handleListSites)
	r.Post("/sites", a.handleCreateSite)
	r.Get("/sites/{domain}", a.handleGetSite)
	r.Delete("/sites/{domain}", a.handleDeleteSite)
	r.Post("/sites/{domain}/enable", a.handleEnableSite)
	r.Post("/sites/{domain}/disable", a.handleDisableSite)
	r.Post("/sites/{domain}/tls", a.handleApplyTLS)
	r.Post("/sites/{domain}/renew", a.handleRenewTLS)
	r.Get("/sites/{domain}/history", a.handleHistory)

	a.router = r
}

// Handler returns an http.Handler for the admin API routes. The metrics
// endpoint, when configured, is served outside the JSON prefix.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.PathPrefix+"/", http.StripPrefix(a.PathPrefix, a.router))
	if a.Metrics != nil {
		mux.Handle("/metrics", a.Metrics.Handler())
	}
	return mux
}

// ServeHTTP implements http.Handler by delegating to the internal
// router after stripping the path prefix.
func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Handler().ServeHTTP(w, r)
}

// --------------------------------------------------------------------------
// Response types
// --------------------------------------------------------------------------

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service_state"`
	Sites   int    `json:"sites"`
	Enabled int    `json:"enabled"`
	TLS     int    `json:"tls"`
}

// SitesResponse is returned by GET /api/sites.
type SitesResponse struct {
	Count int         `json:"count"`
	Sites []SiteState `json:"sites"`
}

// CreateSiteRequest is the body for POST /api/sites.
type CreateSiteRequest struct {
	Domain    string `json:"domain"`
	AppSocket string `json:"app_socket,omitempty"`
}

// HistoryResponse is returned by GET /api/sites/{domain}/history.
type HistoryResponse struct {
	Domain      string             `json:"domain"`
	Transitions []TransitionRecord `json:"transitions"`
}

// ErrorResponse is returned for error conditions.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned for successful mutations.
type MessageResponse struct {
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (a *AdminAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := a.Lifecycle.ServiceStatus(r.Context())
	if err != nil {
		state = "unknown"
	}

	sites, err := a.Lifecycle.List()
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := StatusResponse{Status: "ok", Service: state, Sites: len(sites)}
	for _, s := range sites {
		if s.Enabled {
			resp.Enabled++
		}
		if s.HasTLS {
			resp.TLS++
		}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) handleListSites(w http.ResponseWriter, _ *http.Request) {
	sites, err := a.Lifecycle.List()
	if err != nil {
		a.writeError(w, err)
		return
	}
	if sites == nil {
		sites = []SiteState{}
	}
	a.writeJSON(w, http.StatusOK, SitesResponse{Count: len(sites), Sites: sites})
}

func (a *AdminAPI) handleGetSite(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	state, err := a.Lifecycle.State(domain)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !state.Configured {
		a.writeError(w, ErrSiteNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, state)
}

func (a *AdminAPI) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Domain == "" {
		a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "domain is required"})
		return
	}

	if err := a.Lifecycle.Create(r.Context(), req.Domain, req.AppSocket); err != nil {
		a.writeError(w, err)
		return
	}
	a.Logger.Info("site created via admin API", "domain", req.Domain)
	a.writeJSON(w, http.StatusCreated, MessageResponse{Message: "site created"})
}

func (a *AdminAPI) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	if err := a.Lifecycle.Delete(r.Context(), domain, purge); err != nil {
		a.writeError(w, err)
		return
	}
	a.Logger.Info("site deleted via admin API", "domain", domain, "purge", purge)
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "site deleted"})
}

func (a *AdminAPI) handleEnableSite(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := a.Lifecycle.Enable(r.Context(), domain); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "site enabled"})
}

func (a *AdminAPI) handleDisableSite(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := a.Lifecycle.Disable(r.Context(), domain); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "site disabled"})
}

func (a *AdminAPI) handleApplyTLS(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := a.Lifecycle.ApplyTLS(r.Context(), domain); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "TLS applied"})
}

func (a *AdminAPI) handleRenewTLS(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := a.Lifecycle.RenewTLS(r.Context(), domain); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "certificate renewed"})
}

func (a *AdminAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := a.Lifecycle.History(r.Context(), domain, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []TransitionRecord{}
	}
	a.writeJSON(w, http.StatusOK, HistoryResponse{Domain: domain, Transitions: recs})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("admin API response encoding failed", "error", err)
	}
}

// writeError maps lifecycle errors onto HTTP statuses: bad input is
// 400, missing sites 404, state conflicts 409, and rolled-back or
// failed-issuance operations 422 (the request was well-formed, nginx or
// the CA rejected the result).
func (a *AdminAPI) writeError(w http.ResponseWriter, err error) {
	var rb *RollbackError
	var ie *IssuanceError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidDomain):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSiteNotFound), errors.Is(err, ErrNoCertificate):
		status = http.StatusNotFound
	case errors.Is(err, ErrSiteExists),
		errors.Is(err, ErrProtectedSite),
		errors.Is(err, ErrTLSConfigured),
		errors.Is(err, ErrNotEnabled):
		status = http.StatusConflict
	case errors.As(err, &rb), errors.As(err, &ie):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		a.Logger.Error("admin API request failed", "error", err)
	}
	a.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
