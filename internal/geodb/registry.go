// ABOUTME: Registry owning the live database handle with atomic hot swap
// ABOUTME: Readers always see a fully opened artifact, old handles drain out

package geodb

import (
	"errors"
	"net/netip"
	"sync/atomic"
)

// ErrNotReady is returned for lookups before the first database install.
var ErrNotReady = errors.New("no database loaded")

// Registry publishes the live database handle. Replace swaps the pointer
// atomically; lookups racing a swap either finish on the old handle or retry
// on the new one, they never observe a half-installed artifact.
type Registry struct {
	current atomic.Pointer[Handle]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Ready reports whether a database is loaded.
func (r *Registry) Ready() bool {
	return r.current.Load() != nil
}

// Current returns the live handle.
func (r *Registry) Current() (*Handle, error) {
	h := r.current.Load()
	if h == nil {
		return nil, ErrNotReady
	}
	return h, nil
}

// Metadata returns the live handle's metadata.
func (r *Registry) Metadata() (Metadata, error) {
	h, err := r.Current()
	if err != nil {
		return Metadata{}, err
	}
	return h.Metadata(), nil
}

// Replace installs h as the live handle and releases the previous one.
// In-flight lookups on the old handle finish before its file closes.
func (r *Registry) Replace(h *Handle) {
	old := r.current.Swap(h)
	if old != nil {
		old.Close()
	}
}

// Lookup resolves addr against the live handle. A lookup that loses the race
// with a swap retries against the replacement.
func (r *Registry) Lookup(addr netip.Addr) (*City, bool, error) {
	for {
		h := r.current.Load()
		if h == nil {
			return nil, false, ErrNotReady
		}
		city, found, err := h.Lookup(addr)
		if errors.Is(err, ErrClosed) {
			continue
		}
		return city, found, err
	}
}

// Close releases the live handle and empties the registry.
func (r *Registry) Close() {
	old := r.current.Swap(nil)
	if old != nil {
		old.Close()
	}
}
