// ABOUTME: Refcounted handle over one MaxMind database artifact
// ABOUTME: Keeps the underlying reader open until the last in-flight lookup finishes

package geodb

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/oschwald/maxminddb-golang/v2"
)

// ErrClosed is returned for lookups against a handle whose owner has
// released it and whose in-flight readers have drained.
var ErrClosed = errors.New("database handle closed")

// Metadata describes an open database artifact.
type Metadata struct {
	BinaryFormatMajorVersion int               `json:"binary_format_major_version"`
	BinaryFormatMinorVersion int               `json:"binary_format_minor_version"`
	BuildEpoch               int64             `json:"build_epoch"`
	DatabaseType             string            `json:"database_type"`
	Description              map[string]string `json:"description"`
	IPVersion                int               `json:"ip_version"`
	Languages                []string          `json:"languages"`
	NodeCount                int64             `json:"node_count"`
	RecordSize               int               `json:"record_size"`
}

// Handle is a refcounted reader over one database file. The opener holds the
// owner reference; each lookup briefly holds another. The file closes only
// after the owner reference is released and all lookups have finished, so a
// hot swap never tears a read in progress.
type Handle struct {
	reader *maxminddb.Reader
	meta   Metadata
	path   string

	refs atomic.Int64

	closeOnce sync.Once
}

// Open opens the database file at path and captures its metadata. A file the
// library cannot parse end to end fails here, which is the whole of payload
// validation: the artifact is opaque beyond what the reader accepts.
func Open(path string) (*Handle, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	h := &Handle{
		reader: r,
		path:   path,
		meta:   metadataFrom(r),
	}
	h.refs.Store(1) // Owner reference.
	return h, nil
}

// Validate opens the file, captures its metadata, and closes it again.
func Validate(path string) (Metadata, error) {
	h, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	meta := h.Metadata()
	h.Close()
	return meta, nil
}

// Lookup resolves addr to a City record. The second return reports whether
// the database contains a record for the address.
func (h *Handle) Lookup(addr netip.Addr) (*City, bool, error) {
	if !h.acquire() {
		return nil, false, ErrClosed
	}
	defer h.release()

	result := h.reader.Lookup(addr.Unmap())
	if err := result.Err(); err != nil {
		return nil, false, fmt.Errorf("looking up %s: %w", addr, err)
	}
	if !result.Found() {
		return nil, false, nil
	}

	var city City
	if err := result.Decode(&city); err != nil {
		return nil, false, fmt.Errorf("decoding record for %s: %w", addr, err)
	}
	return &city, true, nil
}

// Metadata returns the artifact metadata captured at open time.
func (h *Handle) Metadata() Metadata {
	return h.meta
}

// Path returns the file the handle reads from.
func (h *Handle) Path() string {
	return h.path
}

// Close releases the owner reference. The underlying reader closes once the
// last in-flight lookup releases its reference.
func (h *Handle) Close() {
	h.release()
}

// acquire registers an in-flight use. It fails once the count has reached
// zero: a drained handle is never resurrected.
func (h *Handle) acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *Handle) release() {
	if h.refs.Add(-1) == 0 {
		h.closeOnce.Do(func() {
			h.reader.Close()
		})
	}
}

func metadataFrom(r *maxminddb.Reader) Metadata {
	md := r.Metadata
	return Metadata{
		BinaryFormatMajorVersion: int(md.BinaryFormatMajorVersion),
		BinaryFormatMinorVersion: int(md.BinaryFormatMinorVersion),
		BuildEpoch:               int64(md.BuildEpoch),
		DatabaseType:             md.DatabaseType,
		Description:              md.Description,
		IPVersion:                int(md.IPVersion),
		Languages:                md.Languages,
		NodeCount:                int64(md.NodeCount),
		RecordSize:               int(md.RecordSize),
	}
}
