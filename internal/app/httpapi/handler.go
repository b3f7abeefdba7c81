// Package httpapi exposes registered methods over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/app/metrics"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/httputil"
	"github.com/R3E-Network/cloudless/internal/logging"
	"github.com/R3E-Network/cloudless/internal/middleware"
)

const defaultMaxBody = 1 << 20

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures the handler.
type Options struct {
	Registry    *service.Registry
	Resolver    middleware.Resolver
	Logger      *logging.Logger
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Audit       *AuditLog
	Checks      map[string]HealthCheck
	// MaxBodyBytes caps request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

// handler bundles HTTP endpoints for the method registry.
type handler struct {
	registry *service.Registry
	logger   *logging.Logger
	audit    *AuditLog
	checks   map[string]HealthCheck
	maxBody  int64
}

// NewHandler returns the boundary:
//
//	POST /api/{service}/{method}  invoke a method with a JSON body
//	GET  /api                     list services
//	GET  /api/{service}           describe a service's methods
//	GET  /admin/audit             recent invocations (System only)
//	GET  /healthz, /metrics
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDefault("httpapi")
	}
	h := &handler{
		registry: opts.Registry,
		logger:   logger,
		audit:    opts.Audit,
		checks:   opts.Checks,
		maxBody:  opts.MaxBodyBytes,
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBody
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, errors.NotFound("route", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed", nil)
	})

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	if opts.Resolver != nil {
		api.Use(middleware.Evidence(opts.Resolver))
	}
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.HandleFunc("", h.listServices).Methods(http.MethodGet)
	api.HandleFunc("/{service}", h.describeService).Methods(http.MethodGet)
	api.HandleFunc("/{service}/{method}", h.invoke).Methods(http.MethodPost)

	if h.audit != nil {
		admin := router.PathPrefix("/admin").Subrouter()
		if opts.Resolver != nil {
			admin.Use(middleware.Evidence(opts.Resolver))
		}
		admin.Use(middleware.RequireTrust(auth.System))
		admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
	}

	var out http.Handler = router
	if len(opts.CORSOrigins) > 0 {
		out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	}
	out = middleware.NewTracingMiddleware(logger).Handler(out)
	return metrics.InstrumentHandler(out)
}

func (h *handler) invoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	method := vars["service"] + "." + vars["method"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		httputil.WriteError(w, r, errors.Validation("body", "request body too large or unreadable"))
		return
	}

	result, err := h.registry.Invoke(r.Context(), method, auth.FromContext(r.Context()), json.RawMessage(body))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type serviceSummary struct {
	service.ServiceInfo
	Methods int `json:"methods"`
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Services()
	out := make([]serviceSummary, 0, len(infos))
	for _, info := range infos {
		_, descs, _ := h.registry.Service(info.Name)
		out = append(out, serviceSummary{ServiceInfo: info, Methods: len(descs)})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) describeService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	info, descs, ok := h.registry.Service(name)
	if !ok {
		httputil.WriteError(w, r, errors.NotFound("service", name))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		service.ServiceInfo
		AllowDraft bool                 `json:"allow_draft"`
		Methods    []service.Descriptor `json:"methods"`
	}{info, h.registry.AllowDraft(), descs})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	httputil.WriteJSON(w, http.StatusOK, h.audit.List(limit))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WithContext(ctx).WithError(err).WithField("check", name).Warn("Health check failed")
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}
