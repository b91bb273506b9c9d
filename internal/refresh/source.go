// ABOUTME: Source abstraction for fetching database artifacts from upstream
// ABOUTME: Conditional fetch contract shared by the HTTP and GCS implementations

package refresh

import "context"

// FetchResult is the outcome of polling a source.
type FetchResult struct {
	// Unchanged reports that the upstream artifact still matches the
	// validator passed to Fetch. Payload is empty in that case.
	Unchanged bool

	// Payload is the raw artifact body, possibly wrapped in one or more
	// container formats.
	Payload []byte

	// Validator is the upstream change token to persist once the payload
	// installs. HTTP sources use the ETag response header; GCS sources use
	// the object generation.
	Validator string
}

// Source fetches database artifacts from one upstream location.
type Source interface {
	// Name identifies the source in logs and audit events. It must not
	// leak credentials.
	Name() string

	// Fetch retrieves the artifact. A non-empty validator makes the fetch
	// conditional: sources answer Unchanged when upstream still matches.
	Fetch(ctx context.Context, validator string) (*FetchResult, error)
}
