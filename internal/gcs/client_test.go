// ABOUTME: Unit tests for the GCS client
// ABOUTME: Uses an httptest JSON API fake for attrs and fetch without real GCS

package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseGCSURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{
			name:       "valid uri",
			uri:        "gs://geo-artifacts/databases/GeoLite2-City.mmdb",
			wantBucket: "geo-artifacts",
			wantObject: "databases/GeoLite2-City.mmdb",
			wantErr:    false,
		},
		{
			name:       "valid uri with nested path",
			uri:        "gs://bucket/a/b/c/d.tar.gz",
			wantBucket: "bucket",
			wantObject: "a/b/c/d.tar.gz",
			wantErr:    false,
		},
		{
			name:       "bucket only",
			uri:        "gs://bucket-only/",
			wantBucket: "bucket-only",
			wantObject: "",
			wantErr:    false,
		},
		{
			name:    "invalid scheme",
			uri:     "s3://bucket/object",
			wantErr: true,
		},
		{
			name:    "missing scheme",
			uri:     "bucket/object",
			wantErr: true,
		},
		{
			name:    "empty uri",
			uri:     "",
			wantErr: true,
		},
		{
			name:    "no bucket",
			uri:     "gs://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("ParseGCSURI() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseGCSURI() error = %v", err)
			}

			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if object != tt.wantObject {
				t.Errorf("object = %q, want %q", object, tt.wantObject)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{Bucket: "my-bucket"},
			wantErr: false,
		},
		{
			name:    "missing bucket",
			cfg:     Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("Validate() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

// newFakeServer serves a single object over the JSON API the way
// fake-gcs-server does: metadata at /storage/v1/b/{bucket}/o/{object}
// and contents with ?alt=media.
func newFakeServer(t *testing.T, bucket, object string, generation int64, content []byte) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := fmt.Sprintf("/storage/v1/b/%s/o/%s", bucket, object)
		if r.URL.Path != wantPath {
			http.NotFound(w, r)
			return
		}

		if r.URL.Query().Get("alt") == "media" {
			w.Write(content)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":%q,"generation":"%d","size":"%d","updated":%q}`,
			object, generation, len(content), time.Now().UTC().Format(time.RFC3339))
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func emulatorClient(t *testing.T, srv *httptest.Server, bucket string) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), Config{
		Bucket:       bucket,
		EmulatorHost: strings.TrimPrefix(srv.URL, "http://"),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if !client.IsEmulatorMode() {
		t.Fatal("IsEmulatorMode() = false, want true")
	}
	return client
}

func TestClient_Attrs(t *testing.T) {
	t.Parallel()

	content := []byte("database payload")
	srv := newFakeServer(t, "geo-artifacts", "GeoLite2-City.mmdb", 1724208000000000, content)
	client := emulatorClient(t, srv, "geo-artifacts")

	info, err := client.Attrs(context.Background(), "GeoLite2-City.mmdb")
	if err != nil {
		t.Fatalf("Attrs() error = %v", err)
	}

	if info.Generation != 1724208000000000 {
		t.Errorf("Generation = %d, want %d", info.Generation, 1724208000000000)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", info.Size, len(content))
	}
	if info.Name != "GeoLite2-City.mmdb" {
		t.Errorf("Name = %q, want %q", info.Name, "GeoLite2-City.mmdb")
	}
}

func TestClient_Fetch(t *testing.T) {
	t.Parallel()

	content := []byte("database payload")
	srv := newFakeServer(t, "geo-artifacts", "GeoLite2-City.mmdb", 7, content)
	client := emulatorClient(t, srv, "geo-artifacts")

	data, err := client.Fetch(context.Background(), "GeoLite2-City.mmdb")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("Fetch() = %q, want %q", data, content)
	}
}

func TestClient_MissingObject(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, "geo-artifacts", "GeoLite2-City.mmdb", 7, nil)
	client := emulatorClient(t, srv, "geo-artifacts")

	if _, err := client.Attrs(context.Background(), "no-such-object.mmdb"); !errors.Is(err, ErrObjectNotExist) {
		t.Errorf("Attrs() error = %v, want ErrObjectNotExist", err)
	}

	if _, err := client.Fetch(context.Background(), "no-such-object.mmdb"); !errors.Is(err, ErrObjectNotExist) {
		t.Errorf("Fetch() error = %v, want ErrObjectNotExist", err)
	}
}
