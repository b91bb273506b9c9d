// ABOUTME: Tests for the HTTP artifact source
// ABOUTME: Conditional GET handling, size limits, TLS trust roots, and URL redaction

package refresh

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHTTPSource_Fetch(t *testing.T) {
	t.Parallel()

	payload := []byte("artifact body")
	var gotUserAgent, gotConditional string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotConditional = r.Header.Get("If-None-Match")
		w.Header().Set("ETag", `"v1"`)
		w.Write(payload)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}

	result, err := src.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if result.Unchanged {
		t.Error("Fetch() Unchanged = true, want false")
	}
	if string(result.Payload) != string(payload) {
		t.Errorf("Fetch() payload = %q, want %q", result.Payload, payload)
	}
	if result.Validator != `"v1"` {
		t.Errorf("Fetch() validator = %q, want %q", result.Validator, `"v1"`)
	}
	if gotUserAgent != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUserAgent, DefaultUserAgent)
	}
	if gotConditional != "" {
		t.Errorf("If-None-Match = %q, want empty for unconditional fetch", gotConditional)
	}
}

func TestHTTPSource_ConditionalFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("artifact body"))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}

	result, err := src.Fetch(context.Background(), `"v1"`)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !result.Unchanged {
		t.Error("Fetch() Unchanged = false, want true for matching validator")
	}
	if len(result.Payload) != 0 {
		t.Errorf("Fetch() payload = %d bytes, want empty on 304", len(result.Payload))
	}
	if result.Validator != `"v1"` {
		t.Errorf("Fetch() validator = %q, want the validator that matched", result.Validator)
	}
}

func TestHTTPSource_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"not found", http.StatusNotFound},
		{"forbidden", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			src, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL})
			if err != nil {
				t.Fatalf("NewHTTPSource() error = %v", err)
			}

			if _, err := src.Fetch(context.Background(), ""); err == nil {
				t.Errorf("Fetch() expected error for status %d, got nil", tt.status)
			}
		})
	}
}

func TestHTTPSource_SizeLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, MaxSize: 32})
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}

	if _, err := src.Fetch(context.Background(), ""); err == nil {
		t.Error("Fetch() expected error for oversized response, got nil")
	}
}

func TestHTTPSource_CustomTrustRoots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("artifact body"))
	}))
	defer srv.Close()

	// Without the server's certificate in the trust roots the fetch must
	// fail TLS verification.
	bare, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}
	if _, err := bare.Fetch(context.Background(), ""); err == nil {
		t.Error("Fetch() without trust roots expected TLS error, got nil")
	}

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caPath, certPEM, 0o644); err != nil {
		t.Fatalf("writing CA bundle: %v", err)
	}

	trusted, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, CABundle: caPath})
	if err != nil {
		t.Fatalf("NewHTTPSource() with CA bundle error = %v", err)
	}
	result, err := trusted.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch() with CA bundle error = %v", err)
	}
	if string(result.Payload) != "artifact body" {
		t.Errorf("Fetch() payload = %q, want %q", result.Payload, "artifact body")
	}

	// InsecureSkipVerify also lets the fetch through.
	insecure, err := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("NewHTTPSource() insecure error = %v", err)
	}
	if _, err := insecure.Fetch(context.Background(), ""); err != nil {
		t.Errorf("Fetch() with InsecureSkipVerify error = %v", err)
	}
}

func TestNewHTTPSource_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPSource(HTTPSourceConfig{}); err == nil {
		t.Error("NewHTTPSource() expected error for missing URL, got nil")
	}

	if _, err := NewHTTPSource(HTTPSourceConfig{
		URL:      "https://example.com/db.mmdb",
		CABundle: "/nonexistent/ca.pem",
	}); err == nil {
		t.Error("NewHTTPSource() expected error for missing CA bundle, got nil")
	}

	junk := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(junk, []byte("not a certificate"), 0o644); err != nil {
		t.Fatalf("writing junk bundle: %v", err)
	}
	if _, err := NewHTTPSource(HTTPSourceConfig{
		URL:      "https://example.com/db.mmdb",
		CABundle: junk,
	}); err == nil {
		t.Error("NewHTTPSource() expected error for junk CA bundle, got nil")
	}
}

func TestHTTPSource_NameRedactsQuery(t *testing.T) {
	t.Parallel()

	src, err := NewHTTPSource(HTTPSourceConfig{
		URL: "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=secret",
	})
	if err != nil {
		t.Fatalf("NewHTTPSource() error = %v", err)
	}

	name := src.Name()
	if strings.Contains(name, "secret") {
		t.Errorf("Name() = %q, must not contain the license key", name)
	}
	if !strings.Contains(name, "download.maxmind.com") {
		t.Errorf("Name() = %q, want the host preserved", name)
	}
}
