// ABOUTME: NATS message handler for lookup requests
// ABOUTME: Resolves addresses against the registry and returns results via reply

package queue

import (
	"context"
	"net/netip"
	"time"

	"github.com/meridian-io/meridian/internal/geodb"
)

// Lookup status values carried in responses.
const (
	StatusFound    = "found"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Handler processes lookup requests against the database registry.
type Handler struct {
	registry *geodb.Registry
	cache    *geodb.LookupCache
}

// NewHandler creates a new message handler.
func NewHandler(registry *geodb.Registry) *Handler {
	return &Handler{
		registry: registry,
	}
}

// NewHandlerWithCache creates a new message handler that consults the lookup
// cache before the registry.
func NewHandlerWithCache(registry *geodb.Registry, cache *geodb.LookupCache) *Handler {
	return &Handler{
		registry: registry,
		cache:    cache,
	}
}

// ProcessRequest processes a single lookup request and returns the response.
func (h *Handler) ProcessRequest(ctx context.Context, req LookupRequest) LookupResponse {
	start := time.Now()
	resp := LookupResponse{
		RequestID:  req.RequestID,
		IP:         req.IP,
		ResolvedAt: time.Now().UTC(),
	}

	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		resp.Status = StatusError
		resp.Error = "invalid address: " + err.Error()
		resp.LookupTimeMs = elapsedMs(start)
		return resp
	}

	if meta, err := h.registry.Metadata(); err == nil {
		resp.BuildEpoch = meta.BuildEpoch
	}

	if h.cache != nil {
		if cached, found, _ := h.cache.Get(ctx, addr); found {
			resp.CacheHit = true
			resp.City = cached.City
			resp.Status = StatusNotFound
			if cached.Found {
				resp.Status = StatusFound
			}
			resp.LookupTimeMs = elapsedMs(start)
			return resp
		}
	}

	city, found, err := h.registry.Lookup(addr)
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		resp.LookupTimeMs = elapsedMs(start)
		return resp
	}

	if h.cache != nil {
		_ = h.cache.Put(ctx, addr, &geodb.CachedResult{Found: found, City: city})
	}

	if found {
		resp.Status = StatusFound
		resp.City = city
	} else {
		resp.Status = StatusNotFound
	}
	resp.LookupTimeMs = elapsedMs(start)

	return resp
}

// ProcessBatch processes multiple lookup requests and returns all responses.
func (h *Handler) ProcessBatch(ctx context.Context, reqs []LookupRequest) []LookupResponse {
	responses := make([]LookupResponse, 0, len(reqs))

	for _, req := range reqs {
		select {
		case <-ctx.Done():
			// Context cancelled; return partial results.
			return responses
		default:
		}

		resp := h.ProcessRequest(ctx, req)
		responses = append(responses, resp)
	}

	return responses
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
