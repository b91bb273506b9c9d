// ABOUTME: Message types for NATS request/reply communication
// ABOUTME: Defines LookupRequest and LookupResponse structures

package queue

import (
	"time"

	"github.com/meridian-io/meridian/internal/geodb"
)

// LookupRequest is the message sent to resolve one address.
type LookupRequest struct {
	// The address to resolve.
	IP string `json:"ip"`

	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`
}

// LookupResponse is the response message for a lookup request.
type LookupResponse struct {
	// Request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// The address that was looked up.
	IP string `json:"ip"`

	// Lookup status: "found", "not_found", "error".
	Status string `json:"status"`

	// The resolved record when status is "found".
	City *geodb.City `json:"city,omitempty"`

	// Build epoch of the database that answered.
	BuildEpoch int64 `json:"build_epoch,omitempty"`

	// Error message if status is "error".
	Error string `json:"error,omitempty"`

	// Lookup time in milliseconds.
	LookupTimeMs float64 `json:"lookup_time_ms"`

	// Whether the response came from the lookup cache.
	CacheHit bool `json:"cache_hit"`

	// Timestamp of the lookup.
	ResolvedAt time.Time `json:"resolved_at"`
}

// BatchLookupRequest is the message for batch lookup operations.
type BatchLookupRequest struct {
	// List of addresses to resolve.
	IPs []string `json:"ips"`

	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`
}

// BatchLookupResponse is the response for batch lookup operations.
type BatchLookupResponse struct {
	// Request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Individual lookup results.
	Results []LookupResponse `json:"results"`

	// Total processing time in milliseconds.
	TotalTimeMs float64 `json:"total_time_ms"`
}
