// ABOUTME: Tests for NATS message handler
// ABOUTME: Covers request/reply lookup messages and error handling

package queue_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/geodb/geodbtest"
	"github.com/meridian-io/meridian/internal/queue"
)

func TestLookupResponse_JSON(t *testing.T) {
	t.Parallel()

	resp := queue.LookupResponse{
		RequestID: "test-123",
		IP:        "8.8.8.8",
		Status:    queue.StatusNotFound,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}

	// A miss carries no record.
	if strings.Contains(string(data), `"city"`) {
		t.Errorf("Encoded miss should omit the city key: %s", data)
	}

	var decoded queue.LookupResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}

	if decoded.Status != resp.Status {
		t.Errorf("Status = %v, want %v", decoded.Status, resp.Status)
	}
	if decoded.RequestID != resp.RequestID {
		t.Errorf("RequestID = %v, want %v", decoded.RequestID, resp.RequestID)
	}
}

func TestHandler_ProcessRequest(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	handler := queue.NewHandler(registry)
	ctx := context.Background()

	// Test a covered address.
	req := queue.LookupRequest{
		IP:        "81.2.69.142",
		RequestID: "test-found",
	}

	resp := handler.ProcessRequest(ctx, req)

	if resp.Status != queue.StatusFound {
		t.Errorf("Status = %v, want %v", resp.Status, queue.StatusFound)
	}
	if resp.City == nil || resp.City.City.Names["en"] != "London" {
		t.Errorf("City = %+v, want London record", resp.City)
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("RequestID = %v, want %v", resp.RequestID, req.RequestID)
	}
	if resp.BuildEpoch == 0 {
		t.Error("BuildEpoch should be set")
	}

	// Test an uncovered address.
	req = queue.LookupRequest{
		IP:        "8.8.8.8",
		RequestID: "test-miss",
	}

	resp = handler.ProcessRequest(ctx, req)

	if resp.Status != queue.StatusNotFound {
		t.Errorf("Miss Status = %v, want %v", resp.Status, queue.StatusNotFound)
	}
	if resp.City != nil {
		t.Errorf("Miss City = %+v, want nil", resp.City)
	}
}

func TestHandler_ProcessRequest_InvalidAddress(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	handler := queue.NewHandler(registry)
	ctx := context.Background()

	req := queue.LookupRequest{
		IP:        "not-an-address",
		RequestID: "test-invalid",
	}

	resp := handler.ProcessRequest(ctx, req)

	if resp.Status != queue.StatusError {
		t.Errorf("Status = %v, want %v", resp.Status, queue.StatusError)
	}
	if resp.Error == "" {
		t.Error("Error should not be empty for an invalid address")
	}
}

func TestHandler_ProcessRequest_CacheHit(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	cache := newTestCache(t)
	handler := queue.NewHandlerWithCache(registry, cache)
	ctx := context.Background()

	req := queue.LookupRequest{IP: "81.2.69.142", RequestID: "warm"}

	first := handler.ProcessRequest(ctx, req)
	if first.CacheHit {
		t.Error("First lookup should not be a cache hit")
	}

	second := handler.ProcessRequest(ctx, req)
	if !second.CacheHit {
		t.Error("Second lookup should be a cache hit")
	}
	if second.Status != queue.StatusFound {
		t.Errorf("Status = %v, want %v", second.Status, queue.StatusFound)
	}
	if second.City == nil || second.City.City.Names["en"] != "London" {
		t.Errorf("City = %+v, want London record", second.City)
	}
}

func TestHandler_ProcessBatch(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	handler := queue.NewHandler(registry)
	ctx := context.Background()

	reqs := []queue.LookupRequest{
		{IP: "81.2.69.142", RequestID: "1"},
		{IP: "8.8.8.8", RequestID: "2"},
		{IP: "garbage", RequestID: "3"},
	}

	responses := handler.ProcessBatch(ctx, reqs)

	if len(responses) != 3 {
		t.Fatalf("len(responses) = %d, want 3", len(responses))
	}

	if responses[0].Status != queue.StatusFound {
		t.Errorf("responses[0].Status = %v, want %v", responses[0].Status, queue.StatusFound)
	}
	if responses[1].Status != queue.StatusNotFound {
		t.Errorf("responses[1].Status = %v, want %v", responses[1].Status, queue.StatusNotFound)
	}
	if responses[2].Status != queue.StatusError {
		t.Errorf("responses[2].Status = %v, want %v", responses[2].Status, queue.StatusError)
	}
}

func TestHandler_ProcessBatch_Cancelled(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	handler := queue.NewHandler(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	responses := handler.ProcessBatch(ctx, []queue.LookupRequest{
		{IP: "81.2.69.142"},
		{IP: "8.8.8.8"},
	})

	if len(responses) != 0 {
		t.Errorf("len(responses) = %d, want 0 after cancellation", len(responses))
	}
}

func newTestRegistry(t *testing.T) *geodb.Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.mmdb")
	geodbtest.Write(t, path, nil)

	handle, err := geodb.Open(path)
	if err != nil {
		t.Fatalf("Opening test database: %v", err)
	}

	registry := geodb.NewRegistry()
	registry.Replace(handle)
	t.Cleanup(registry.Close)

	return registry
}

func newTestCache(t *testing.T) *geodb.LookupCache {
	t.Helper()

	cache, err := geodb.NewLookupCache(geodb.CacheOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Creating lookup cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return cache
}
