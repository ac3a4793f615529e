// Package api exposes the Aggregator's four HTTP endpoints: a server-sent
// events subscription feed, a filtered-fetch query over persisted records,
// a distinct-services inventory, and a health check.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/aggregator/persist"
	"github.com/opsentra/opsentra/internal/middleware"
	"github.com/opsentra/opsentra/internal/persistence"
	"github.com/opsentra/opsentra/internal/record"
)

const (
	defaultFetchLimit = 100
	maxFetchLimit     = 1000
)

// Store is the Persistence Writer surface the filtered-fetch and
// distinct-services endpoints need.
type Store interface {
	Fetch(ctx context.Context, params persist.FilterParams) ([]persistence.StoredRecord, error)
	DistinctServices(ctx context.Context) ([]string, error)
}

// Hub is the Subscriber Hub surface the SSE endpoint needs.
type Hub interface {
	Register(id, filter string) *hub.Subscriber
	Unregister(sub *hub.Subscriber)
	Count() int
}

// DependencyChecker reports whether a dependency is currently reachable,
// for the health endpoint's per-dependency status.
type DependencyChecker func(ctx context.Context) error

// Config holds the HTTP surface's tunables and dependency checks for
// /health.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	CheckBroker      DependencyChecker
	CheckStore       DependencyChecker
	CheckObjectStore DependencyChecker
}

// Handler implements the four Aggregator endpoints.
type Handler struct {
	store     Store
	hub       Hub
	cfg       Config
	startedAt time.Time
	version   string
}

// NewHandler constructs a Handler bound to store and hub.
func NewHandler(store Store, h Hub, cfg Config, version string) *Handler {
	return &Handler{store: store, hub: h, cfg: cfg, startedAt: time.Now(), version: version}
}

// chiMiddleware adapts our http.HandlerFunc middleware to chi's
// func(http.Handler) http.Handler so r.Use() accepts it.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter builds the chi.Router serving all four endpoints, instrumented
// with Prometheus request metrics and gzip response compression.
func NewRouter(h *Handler, cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

	// /subscribe is long-lived and streamed; gzip buffering would break SSE
	// framing, so compression is scoped to the two JSON endpoints only.
	r.Get("/subscribe", h.Subscribe)
	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware(middleware.Compression))
		r.Get("/logs", h.Logs)
		r.Get("/services", h.Services)
	})
	return r
}

// Logs serves the filtered-fetch endpoint: limit (default 100, max 1000),
// optional service, optional level. Unknown filters return an empty
// result set rather than an error.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	params := persist.FilterParams{Limit: defaultFetchLimit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, ok := parsePositiveInt(raw); ok {
			params.Limit = n
		}
	}
	if params.Limit > maxFetchLimit {
		params.Limit = maxFetchLimit
	}
	params.Service = r.URL.Query().Get("service")
	if raw := r.URL.Query().Get("level"); raw != "" {
		params.Level = record.Normalize(raw)
	}

	logs, err := h.store.Fetch(r.Context(), params)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []persistence.StoredRecord{}
	}

	writeJSON(w, http.StatusOK, fetchResponse{Logs: logs, Count: len(logs)})
}

type fetchResponse struct {
	Logs  []persistence.StoredRecord `json:"logs"`
	Count int                        `json:"count"`
}

// Services serves the distinct-service inventory.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.DistinctServices(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []string{}
	}
	writeJSON(w, http.StatusOK, servicesResponse{Services: services})
}

type servicesResponse struct {
	Services []string `json:"services"`
}

// Health reports overall status, version, per-dependency status,
// subscriber count, and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := map[string]string{
		"broker":       checkStatus(ctx, h.cfg.CheckBroker),
		"store":        checkStatus(ctx, h.cfg.CheckStore),
		"object_store": checkStatus(ctx, h.cfg.CheckObjectStore),
	}

	status := "healthy"
	for _, s := range deps {
		if s != "ok" {
			status = "degraded"
			break
		}
	}

	resp := healthResponse{
		Status:       status,
		Version:      h.version,
		Dependencies: deps,
		Subscribers:  h.hub.Count(),
		UptimeSec:    int64(time.Since(h.startedAt).Seconds()),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Subscribers  int               `json:"subscribers"`
	UptimeSec    int64             `json:"uptimeSeconds"`
}

func checkStatus(ctx context.Context, check DependencyChecker) string {
	if check == nil {
		return "unknown"
	}
	if err := check(ctx); err != nil {
		return "unreachable"
	}
	return "ok"
}

func parsePositiveInt(raw string) (int, bool) {
	n := 0
	if raw == "" {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// newSubscriberID generates a fresh subscriber identifier for a /subscribe
// connection.
func newSubscriberID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
