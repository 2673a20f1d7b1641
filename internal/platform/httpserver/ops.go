package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verigate/pkg/platform/middleware/metadata"
	"verigate/pkg/platform/middleware/requesttime"
)

// HealthCheck reports a dependency's health. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

// MultiCheck reports several named sub-checks, such as one per provider.
type MultiCheck func(ctx context.Context) map[string]error

// Snapshot produces a read-only JSON view for dashboards.
type Snapshot func(ctx context.Context) (any, error)

type routeGroup struct {
	register   func(r chi.Router)
	middleware []func(http.Handler) http.Handler
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// OpsRouter serves /healthz, /metrics and registered snapshots. It is not
// the public API.
type OpsRouter struct {
	checks   map[string]HealthCheck
	multi    map[string]MultiCheck
	views    map[string]Snapshot
	groups   []routeGroup
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

func NewOpsRouter(gatherer prometheus.Gatherer) *OpsRouter {
	return &OpsRouter{
		checks:   make(map[string]HealthCheck),
		multi:    make(map[string]MultiCheck),
		views:    make(map[string]Snapshot),
		gatherer: gatherer,
		timeout:  2 * time.Second,
	}
}

func (o *OpsRouter) AddCheck(name string, check HealthCheck) {
	o.checks[name] = check
}

// AddMultiCheck registers checks reported as "<prefix>.<name>".
func (o *OpsRouter) AddMultiCheck(prefix string, check MultiCheck) {
	o.multi[prefix] = check
}

// AddSnapshot serves GET path with the JSON encoding of view's result.
func (o *OpsRouter) AddSnapshot(path string, view Snapshot) {
	o.views[path] = view
}

// AddRoutes mounts a handler's routes behind its own middleware, such as
// the admin token guard.
func (o *OpsRouter) AddRoutes(register func(r chi.Router), mw ...func(http.Handler) http.Handler) {
	o.groups = append(o.groups, routeGroup{register: register, middleware: mw})
}

func (o *OpsRouter) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(requesttime.Middleware)
	r.Get("/healthz", o.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	for path, view := range o.views {
		r.Get(path, o.snapshotHandler(view))
	}
	for _, group := range o.groups {
		r.Group(func(g chi.Router) {
			g.Use(group.middleware...)
			group.register(g)
		})
	}
	return r
}

func (o *OpsRouter) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), o.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string)}
	record := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	for _, name := range sortedKeys(o.checks) {
		record(name, o.checks[name](ctx))
	}
	for _, prefix := range sortedKeys(o.multi) {
		for name, err := range o.multi[prefix](ctx) {
			record(prefix+"."+name, err)
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (o *OpsRouter) snapshotHandler(view Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), o.timeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		body, err := view(ctx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
