// ABOUTME: GCS client for fetching database objects with generation tracking
// ABOUTME: Supports ADC authentication, service account keys, and emulator mode

package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrObjectNotExist is returned when the requested object is missing.
var ErrObjectNotExist = errors.New("object does not exist")

// Config holds GCS client configuration.
type Config struct {
	// Bucket is the GCS bucket name.
	Bucket string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// EmulatorHost is the GCS emulator host (e.g., "localhost:4443").
	// When set, the client uses HTTP directly instead of the Go SDK.
	// This works around googleapis/google-cloud-go#6139 where the SDK
	// uses path-style URLs that fake-gcs-server doesn't support.
	EmulatorHost string
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// ObjectInfo describes a GCS object without its contents.
type ObjectInfo struct {
	// Name is the object path within the bucket.
	Name string

	// Generation changes every time the object content is replaced.
	Generation int64

	// Size is the object size in bytes.
	Size int64

	// Updated is when the object was last written.
	Updated time.Time
}

// Client wraps the GCS storage client.
type Client struct {
	storageClient *storage.Client
	httpClient    *http.Client
	bucket        string
	emulatorHost  string // Non-empty when using emulator mode
}

// NewClient creates a new GCS client. When EmulatorHost is configured or the
// STORAGE_EMULATOR_HOST environment variable is set by the caller, the client
// talks to the emulator over plain HTTP.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Check for emulator: explicit config takes precedence, then env var.
	emulatorHost := cfg.EmulatorHost
	if emulatorHost == "" {
		emulatorHost = os.Getenv("STORAGE_EMULATOR_HOST")
	}

	if emulatorHost != "" {
		return &Client{
			httpClient:   &http.Client{},
			bucket:       cfg.Bucket,
			emulatorHost: emulatorHost,
		}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Client{
		storageClient: client,
		bucket:        cfg.Bucket,
	}, nil
}

// Close closes the GCS client.
func (c *Client) Close() error {
	if c.storageClient != nil {
		return c.storageClient.Close()
	}
	return nil
}

// IsEmulatorMode returns true if the client is configured for emulator mode.
func (c *Client) IsEmulatorMode() bool {
	return c.emulatorHost != ""
}

// Bucket returns the bucket the client is bound to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Attrs returns metadata for an object without downloading its contents.
func (c *Client) Attrs(ctx context.Context, object string) (*ObjectInfo, error) {
	if c.emulatorHost != "" {
		return c.attrsViaHTTP(ctx, object)
	}

	attrs, err := c.storageClient.Bucket(c.bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %s/%s: %w", c.bucket, object, ErrObjectNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching attrs for %s/%s: %w", c.bucket, object, err)
	}

	return &ObjectInfo{
		Name:       attrs.Name,
		Generation: attrs.Generation,
		Size:       attrs.Size,
		Updated:    attrs.Updated,
	}, nil
}

// Fetch downloads an object into memory.
func (c *Client) Fetch(ctx context.Context, object string) ([]byte, error) {
	if c.emulatorHost != "" {
		return c.fetchViaHTTP(ctx, object)
	}

	reader, err := c.storageClient.Bucket(c.bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %s/%s: %w", c.bucket, object, ErrObjectNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object %s/%s: %w", c.bucket, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("downloading object %s/%s: %w", c.bucket, object, err)
	}
	return data, nil
}

// objectMetadata is the JSON API representation of object attrs. The JSON
// API encodes int64 fields as strings.
type objectMetadata struct {
	Name       string    `json:"name"`
	Generation string    `json:"generation"`
	Size       string    `json:"size"`
	Updated    time.Time `json:"updated"`
}

// attrsViaHTTP fetches object metadata using the JSON API directly.
func (c *Client) attrsViaHTTP(ctx context.Context, object string) (*ObjectInfo, error) {
	metaURL := fmt.Sprintf("http://%s/storage/v1/b/%s/o/%s",
		c.emulatorHost, c.bucket, url.PathEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request to %s: %w", metaURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s/%s: %w", c.bucket, object, ErrObjectNotExist)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching attrs for %s/%s: HTTP %d", c.bucket, object, resp.StatusCode)
	}

	var meta objectMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding attrs response: %w", err)
	}

	generation, err := strconv.ParseInt(meta.Generation, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing generation %q: %w", meta.Generation, err)
	}
	size, err := strconv.ParseInt(meta.Size, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing size %q: %w", meta.Size, err)
	}

	return &ObjectInfo{
		Name:       meta.Name,
		Generation: generation,
		Size:       size,
		Updated:    meta.Updated,
	}, nil
}

// fetchViaHTTP downloads an object using the JSON API directly.
// Format: http://{host}/storage/v1/b/{bucket}/o/{object}?alt=media
func (c *Client) fetchViaHTTP(ctx context.Context, object string) ([]byte, error) {
	downloadURL := fmt.Sprintf("http://%s/storage/v1/b/%s/o/%s?alt=media",
		c.emulatorHost, c.bucket, url.PathEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request to %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s/%s: %w", c.bucket, object, ErrObjectNotExist)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading object %s/%s: HTTP %d", c.bucket, object, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("downloading object: %w", err)
	}
	return data, nil
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}

	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	// Remove the gs:// prefix.
	path := strings.TrimPrefix(uri, "gs://")

	// Split into bucket and object.
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}

	return bucket, object, nil
}
