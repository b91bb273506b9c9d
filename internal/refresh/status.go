// ABOUTME: Status tracking for the database refresh lifecycle
// ABOUTME: Thread-safe tracker recording cycle phase, outcomes, and artifact metadata

package refresh

import (
	"sync"
	"time"

	"github.com/meridian-io/meridian/internal/geodb"
)

// State represents where the refresher currently is in its cycle.
type State string

// State constants. A cycle moves fetching → extracting → installing and
// lands on idle; failures land on degraded when an older artifact keeps
// serving, or failed when nothing is serveable.
const (
	// StatePending indicates no cycle has run yet.
	StatePending State = "pending"

	// StateIdle indicates the last cycle completed successfully.
	StateIdle State = "idle"

	// StateFetching indicates a cycle is polling the upstream source.
	StateFetching State = "fetching"

	// StateExtracting indicates a cycle is unwrapping a fetched payload.
	StateExtracting State = "extracting"

	// StateInstalling indicates a cycle is validating and swapping the
	// artifact.
	StateInstalling State = "installing"

	// StateDegraded indicates the last cycle failed but an earlier
	// artifact is still serving lookups.
	StateDegraded State = "degraded"

	// StateFailed indicates the last cycle failed with nothing serveable.
	StateFailed State = "failed"
)

// Status is a point-in-time snapshot of the refresh lifecycle.
type Status struct {
	// State is the current cycle phase or resting state.
	State State `json:"state"`

	// Trigger names what started the most recent cycle.
	Trigger string `json:"trigger,omitempty"`

	// LastSuccess is when a cycle last completed successfully, whether it
	// installed a new artifact or confirmed the current one.
	LastSuccess time.Time `json:"last_success,omitzero"`

	// LastInstall is when a new artifact was last installed.
	LastInstall time.Time `json:"last_install,omitzero"`

	// NextScheduled is when the periodic timer fires next. Zero when no
	// remote source is configured.
	NextScheduled time.Time `json:"next_scheduled,omitzero"`

	// LastError is the error message from the most recent failed cycle.
	LastError string `json:"last_error,omitempty"`

	// ConsecutiveFailures counts failed cycles since the last success.
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`

	// Database describes the currently served artifact.
	Database geodb.Metadata `json:"database,omitzero"`
}

// TimeSinceSuccess returns the duration since the last successful cycle.
// Returns 0 if no cycle has succeeded.
func (s Status) TimeSinceSuccess() time.Duration {
	if s.LastSuccess.IsZero() {
		return 0
	}
	return time.Since(s.LastSuccess)
}

// StatusTracker records refresh lifecycle progress for health and status
// reporting.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusTracker creates a tracker in the pending state.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		status: Status{State: StatePending},
	}
}

// Get returns a copy of the current status.
func (t *StatusTracker) Get() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// BeginCycle marks the start of a cycle and records its trigger.
func (t *StatusTracker) BeginCycle(trigger string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Trigger = trigger
	t.status.State = StateFetching
}

// SetState updates the cycle phase.
func (t *StatusTracker) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = state
}

// SetNextScheduled records when the periodic timer fires next.
func (t *StatusTracker) SetNextScheduled(next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.NextScheduled = next
}

// SetDatabase records metadata for the artifact now serving lookups.
func (t *StatusTracker) SetDatabase(meta geodb.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Database = meta
}

// RecordChecked marks a cycle that confirmed the current artifact without
// installing a new one.
func (t *StatusTracker) RecordChecked(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = StateIdle
	t.status.LastSuccess = now
	t.status.LastError = ""
	t.status.ConsecutiveFailures = 0
}

// RecordInstall marks a cycle that installed a new artifact.
func (t *StatusTracker) RecordInstall(now time.Time, meta geodb.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.State = StateIdle
	t.status.LastSuccess = now
	t.status.LastInstall = now
	t.status.Database = meta
	t.status.LastError = ""
	t.status.ConsecutiveFailures = 0
}

// RecordFailure marks a failed cycle. serving indicates whether an earlier
// artifact still answers lookups.
func (t *StatusTracker) RecordFailure(err error, serving bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastError = err.Error()
	t.status.ConsecutiveFailures++
	if serving {
		t.status.State = StateDegraded
	} else {
		t.status.State = StateFailed
	}
}
