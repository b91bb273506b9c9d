// ABOUTME: HTTP handlers for the meridian lookup API
// ABOUTME: Serves address lookups, database metadata, and the health document

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/observability"
	"github.com/meridian-io/meridian/internal/redis"
	"github.com/meridian-io/meridian/internal/refresh"
)

// BuildEpochHeader names the response header carrying the build epoch of the
// database that answered a lookup.
const BuildEpochHeader = "x-maxmind-build-epoch"

// routeLookup keys per-route metrics for the lookup endpoint.
const routeLookup = "GET /{ip}"

// RefreshStatusProvider reports database refresh lifecycle status.
type RefreshStatusProvider interface {
	Status() refresh.Status
}

// QueueStatusProvider reports messaging transport connectivity.
type QueueStatusProvider interface {
	IsConnected() bool
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	registry *geodb.Registry
	cache    *geodb.LookupCache
	metrics  *observability.LookupMetrics
	refresh  RefreshStatusProvider
	queue    QueueStatusProvider
	limiter  *redis.RateLimiter
}

// HandlerConfig holds configuration for API handlers.
type HandlerConfig struct {
	// Registry resolves lookups against the active database. Required.
	Registry *geodb.Registry

	// Cache short-circuits repeated lookups. Optional.
	Cache *geodb.LookupCache

	// Metrics collects lookup counters and latencies. Defaults to a fresh
	// collector when nil.
	Metrics *observability.LookupMetrics

	// Refresh reports database refresh status in the health document.
	// Optional.
	Refresh RefreshStatusProvider

	// Queue reports NATS connectivity in the health document. Optional.
	Queue QueueStatusProvider

	// Limiter reports rate limiter circuit state in the health document.
	// Optional.
	Limiter *redis.RateLimiter
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewLookupMetrics()
	}
	return &Handler{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		refresh:  cfg.Refresh,
		queue:    cfg.Queue,
		limiter:  cfg.Limiter,
	}
}

// RegisterRoutes registers all API routes on the given mux. Literal segments
// take precedence over the address wildcard, so /metadata and /healthz are
// never parsed as addresses.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /metadata", h.HandleMetadata)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /{ip}", h.HandleLookup)
}

// HandleLookup handles address lookup requests.
// GET /{ip}
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	h.metrics.IncrementActiveRequests()
	defer h.metrics.DecrementActiveRequests()

	ctx, span := observability.StartSpan(r.Context(), "api.lookup")
	defer span.End()

	addr, err := netip.ParseAddr(r.PathValue("ip"))
	if err != nil {
		h.metrics.RecordLookup(routeLookup, time.Since(start), observability.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address: %v", err))
		return
	}

	// Serve from cache when the address was looked up recently. The cache
	// is flushed on every database install, so entries never outlive the
	// database that produced them.
	if h.cache != nil {
		cached, found, _ := h.cache.Get(ctx, addr)
		if found {
			h.metrics.RecordCacheHit()
			h.writeLookupResult(w, start, cached.City, cached.Found)
			return
		}
		h.metrics.RecordCacheMiss()
	}

	city, found, err := h.registry.Lookup(addr)
	if err != nil {
		h.metrics.RecordLookup(routeLookup, time.Since(start), observability.OutcomeFailed)
		if !h.registry.Ready() {
			writeError(w, http.StatusServiceUnavailable, "no database loaded")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("lookup failed: %v", err))
		return
	}

	if h.cache != nil {
		// Negative results are cached too.
		_ = h.cache.Put(ctx, addr, &geodb.CachedResult{Found: found, City: city})
	}

	h.writeLookupResult(w, start, city, found)
}

// writeLookupResult finishes a lookup request from a resolved record.
func (h *Handler) writeLookupResult(w http.ResponseWriter, start time.Time, city *geodb.City, found bool) {
	if !found {
		h.metrics.RecordLookup(routeLookup, time.Since(start), observability.OutcomeNotFound)
		writeError(w, http.StatusNotFound, "no record for address")
		return
	}

	if meta, err := h.registry.Metadata(); err == nil {
		w.Header().Set(BuildEpochHeader, strconv.FormatInt(meta.BuildEpoch, 10))
	}

	h.metrics.RecordLookup(routeLookup, time.Since(start), observability.OutcomeFound)
	writeJSON(w, http.StatusOK, city)
}

// HandleMetadata serves metadata of the active database.
// GET /metadata
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.registry.Metadata()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no database loaded")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// HandleHealth handles health check requests.
// GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]interface{})

	// Check the active database.
	if meta, err := h.registry.Metadata(); err != nil {
		status = "degraded"
		checks["database"] = fmt.Sprintf("error: %v", err)
	} else {
		checks["database"] = fmt.Sprintf("ok (%s, build epoch %d)", meta.DatabaseType, meta.BuildEpoch)
	}

	// Include refresh lifecycle status.
	if h.refresh != nil {
		st := h.refresh.Status()
		checks["refresh"] = st
		if st.State == refresh.StateFailed || st.State == refresh.StateDegraded {
			status = "degraded"
		}
	}

	// Check the lookup cache.
	if h.cache != nil {
		checks["cache"] = h.cache.Stats()
	}

	// Check NATS connectivity.
	if h.queue != nil {
		if h.queue.IsConnected() {
			checks["queue"] = "ok"
		} else {
			checks["queue"] = "error: disconnected"
		}
	}

	// Include rate limiter circuit state.
	if h.limiter != nil {
		checks["rate_limiter"] = h.limiter.Stats()
	}

	checks["lookups"] = h.metrics.Snapshot().String()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
