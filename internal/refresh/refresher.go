// ABOUTME: Refresh scheduler orchestrating fetch, extract, install, and hot swap
// ABOUTME: Startup, timer, and signal triggers with single-flight cycles and stale fallback

package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-io/meridian/internal/archive"
	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/observability"
)

// DefaultInterval is how often the periodic timer starts a refresh cycle.
const DefaultInterval = 24 * time.Hour

// Trigger identifies what started a refresh cycle.
type Trigger string

// Trigger constants. Each trigger carries its own force semantics: the
// timer and signal bypass the freshness guard, and only the signal ignores
// the stored validator so a reload always re-downloads.
const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerSignal  Trigger = "signal"
	TriggerManual  Trigger = "manual"
)

// CycleOptions control how a single refresh cycle behaves.
type CycleOptions struct {
	// Trigger names what started the cycle, for logs and audit events.
	Trigger Trigger

	// SkipFreshGuard runs the cycle even when the last-checked stamp is
	// younger than the refresh interval.
	SkipFreshGuard bool

	// IgnoreValidator fetches unconditionally instead of sending the
	// stored validator token.
	IgnoreValidator bool
}

// OptionsFor returns the standard cycle options for a trigger.
func OptionsFor(trigger Trigger) CycleOptions {
	switch trigger {
	case TriggerTimer, TriggerManual:
		return CycleOptions{Trigger: trigger, SkipFreshGuard: true}
	case TriggerSignal:
		return CycleOptions{Trigger: trigger, SkipFreshGuard: true, IgnoreValidator: true}
	default:
		return CycleOptions{Trigger: trigger}
	}
}

// RefresherConfig configures the refresh scheduler.
type RefresherConfig struct {
	// Source is the upstream artifact location. Nil puts the refresher in
	// static mode: it serves whatever artifact is on disk and a signal
	// trigger reopens it, but nothing is ever fetched.
	Source Source

	// Layout resolves the artifact and sidecar paths.
	Layout Layout

	// Registry receives the handle after every successful install or
	// reload. Required.
	Registry *geodb.Registry

	// Cache is flushed after every install so stale lookup results never
	// outlive the artifact they came from. Optional.
	Cache *geodb.LookupCache

	// Interval between timer-triggered cycles. Zero uses DefaultInterval.
	Interval time.Duration

	// Retry configures backoff for the synchronous startup cycle. Later
	// cycles never retry; the next timer tick is the retry.
	Retry BackoffConfig

	// Audit receives install, reject, reload, and failure events.
	Audit *observability.AuditLogger

	// Logger for structured logging.
	Logger *slog.Logger
}

// Refresher keeps the registry's database current. One cycle runs at a time
// system-wide: triggers arriving while a cycle is in flight are dropped, not
// queued.
type Refresher struct {
	config    RefresherConfig
	installer *Installer
	status    *StatusTracker

	busy    atomic.Bool
	trigger chan Trigger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRefresher creates a refresh scheduler.
func NewRefresher(config RefresherConfig) (*Refresher, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if config.Layout.Dir() == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Audit == nil {
		config.Audit = observability.NewAuditLogger(config.Logger)
	}

	return &Refresher{
		config:    config,
		installer: NewInstaller(config.Layout, config.Logger),
		status:    NewStatusTracker(),
		trigger:   make(chan Trigger, 1),
	}, nil
}

// StaticMode reports whether the refresher has no upstream source.
func (r *Refresher) StaticMode() bool {
	return r.config.Source == nil
}

// Status returns a snapshot of the refresh lifecycle.
func (r *Refresher) Status() Status {
	return r.status.Get()
}

// LastChecked returns the persisted last-checked marker.
func (r *Refresher) LastChecked() (time.Time, bool) {
	return r.config.Layout.LastChecked()
}

// RunStartup runs the first cycle synchronously. The caller must not accept
// traffic until it returns nil. Failures retry with backoff; when retries
// are exhausted and no usable artifact exists, the returned error is fatal
// to the process. In static mode the artifact must already be on disk and
// there are no retries.
func (r *Refresher) RunStartup(ctx context.Context) error {
	r.config.Layout.CleanStaging()

	opts := OptionsFor(TriggerStartup)
	if r.StaticMode() {
		return r.runCycle(ctx, opts)
	}

	backoff := NewBackoff(r.config.Retry)
	for {
		err := r.runCycle(ctx, opts)
		if err == nil {
			return nil
		}

		delay, ok := backoff.NextDelay()
		if !ok {
			return observability.Wrap(
				fmt.Errorf("no usable database after %d attempts: %w", backoff.Attempts(), err),
				"DATABASE_BOOTSTRAP_FAILED", observability.CategoryPermanent, "startup")
		}

		r.config.Logger.Warn("startup refresh failed, retrying",
			slog.Any("error", err),
			slog.Duration("delay", delay),
			slog.Int("attempt", backoff.Attempts()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Start launches the background worker servicing the periodic timer and
// external triggers.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.config.Logger.Info("refresh scheduler started",
		slog.Duration("interval", r.config.Interval),
		slog.Bool("static_mode", r.StaticMode()),
	)

	return nil
}

// Stop stops the background worker and waits for any in-flight cycle.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()

	r.config.Logger.Info("refresh scheduler stopped")
}

// IsRunning returns true if the background worker is active.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// TriggerRefresh requests a cycle for the given trigger. The request is
// dropped when a cycle is already in flight or one is already queued; the
// return value reports whether it was accepted. At most one cycle runs at a
// time, so a reload signal during a timer cycle never causes a duplicate
// fetch.
func (r *Refresher) TriggerRefresh(t Trigger) bool {
	if r.busy.Load() {
		return false
	}
	select {
	case r.trigger <- t:
		return true
	default:
		return false
	}
}

// RunOnce runs a single cycle synchronously with explicit options. Intended
// for command-line invocations that refresh outside the daemon's scheduler.
func (r *Refresher) RunOnce(ctx context.Context, opts CycleOptions) error {
	r.config.Layout.CleanStaging()
	return r.runCycle(ctx, opts)
}

// run is the worker loop. In static mode the timer stays off and only
// trigger requests are serviced.
func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	var tick <-chan time.Time
	if !r.StaticMode() {
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
		r.status.SetNextScheduled(time.Now().Add(r.config.Interval))
	}

	for {
		select {
		case <-ctx.Done():
			r.config.Logger.Debug("refresh worker stopped")
			return

		case <-tick:
			r.runCycle(ctx, OptionsFor(TriggerTimer))
			r.status.SetNextScheduled(time.Now().Add(r.config.Interval))

		case t := <-r.trigger:
			r.config.Logger.Info("refresh triggered", slog.String("trigger", string(t)))
			r.runCycle(ctx, OptionsFor(t))
		}
	}
}

// runCycle executes one fetch-extract-install cycle. It returns an error
// only when the service has nothing serveable afterwards; failures that
// leave an older artifact serving degrade instead.
func (r *Refresher) runCycle(ctx context.Context, opts CycleOptions) error {
	r.busy.Store(true)
	defer r.busy.Store(false)

	ctx, span := observability.StartSpan(ctx, "refresh.cycle")
	defer span.End()

	logger := r.config.Logger.With(slog.String("trigger", string(opts.Trigger)))
	r.status.BeginCycle(string(opts.Trigger))

	start := time.Now()
	err := r.cycle(ctx, opts, logger)
	if err != nil {
		r.status.RecordFailure(err, false)
		logger.Error("refresh failed with no usable database",
			slog.Any("error", err),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}

	logger.Debug("refresh cycle finished", slog.Duration("duration", time.Since(start)))
	return nil
}

// cycle is the semantic core of one refresh attempt.
func (r *Refresher) cycle(ctx context.Context, opts CycleOptions, logger *slog.Logger) error {
	if r.StaticMode() {
		return r.reload(ctx, logger)
	}

	// Freshness guard: a cycle that was not explicitly forced skips the
	// network entirely when the last check is recent enough. An artifact
	// that turns out to be unopenable falls through to a real fetch.
	if !opts.SkipFreshGuard && r.config.Layout.HasDatabase() {
		if checked, ok := r.config.Layout.LastChecked(); ok && time.Since(checked) < r.config.Interval {
			err := r.ensureLoaded(ctx, logger)
			if err == nil {
				logger.Info("database checked recently, skipping fetch",
					slog.Duration("age", time.Since(checked)),
					slog.Duration("interval", r.config.Interval),
				)
				r.status.SetState(StateIdle)
				return nil
			}
			logger.Warn("recent artifact unusable, fetching", slog.Any("error", err))
		}
	}

	// The validator is only worth sending when an artifact exists to keep:
	// answering 304 to a process with nothing on disk would strand it.
	validator := ""
	if !opts.IgnoreValidator && r.config.Layout.HasDatabase() {
		validator = r.config.Layout.ReadETag()
	}

	result, err := r.config.Source.Fetch(ctx, validator)
	if err != nil {
		ferr := observability.Wrap(err,
			"DATABASE_FETCH_FAILED", observability.CategoryTransient, "database_fetch")
		r.config.Audit.LogRefreshFailure(ctx, r.config.Source.Name(), string(opts.Trigger), err)
		return r.degradeOrFail(ctx, logger, ferr)
	}

	if result.Unchanged {
		if err := r.ensureLoaded(ctx, logger); err != nil {
			return err
		}
		if err := r.config.Layout.TouchStamp(); err != nil {
			logger.Warn("failed to touch last-checked stamp", slog.Any("error", err))
		}
		r.status.RecordChecked(time.Now())
		logger.Info("database unchanged upstream", slog.String("validator", result.Validator))
		return nil
	}

	r.status.SetState(StateExtracting)
	if err := r.spoolPayload(result.Payload); err != nil {
		logger.Warn("failed to spool download", slog.Any("error", err))
	}
	defer r.config.Layout.CleanStaging()

	raw, err := archive.Extract(result.Payload)
	if err != nil {
		rerr := observability.Wrap(err,
			"DATABASE_PAYLOAD_INVALID", observability.CategoryPermanent, "database_extract")
		r.config.Audit.LogDatabaseRejected(ctx, r.config.Source.Name(), err.Error())
		return r.degradeOrFail(ctx, logger, rerr)
	}

	r.status.SetState(StateInstalling)
	handle, err := r.installer.Install(ctx, raw, result.Validator)
	if err != nil {
		r.config.Audit.LogDatabaseRejected(ctx, r.config.Source.Name(), err.Error())
		return r.degradeOrFail(ctx, logger, err)
	}

	r.config.Registry.Replace(handle)
	r.flushCache(logger)

	meta := handle.Metadata()
	r.status.RecordInstall(time.Now(), meta)
	r.config.Audit.LogDatabaseInstall(ctx, r.config.Source.Name(), meta.BuildEpoch, string(opts.Trigger))
	logger.Info("database installed",
		slog.Int64("build_epoch", meta.BuildEpoch),
		slog.String("database_type", meta.DatabaseType),
		slog.Int("size_bytes", len(raw)),
	)

	return nil
}

// spoolPayload writes the raw download to its scratch path. Scratch files
// are removed when the cycle ends, whatever its outcome.
func (r *Refresher) spoolPayload(payload []byte) error {
	if err := r.config.Layout.EnsureDir(); err != nil {
		return err
	}
	return os.WriteFile(r.config.Layout.SpoolPath(), payload, 0o644)
}

// degradeOrFail decides what a failed cycle means for the service. When an
// earlier artifact still serves lookups, the failure degrades: freshness is
// sacrificed, availability is not. Otherwise the error propagates.
func (r *Refresher) degradeOrFail(ctx context.Context, logger *slog.Logger, err error) error {
	if lerr := r.ensureLoaded(ctx, logger); lerr != nil {
		return err
	}

	r.status.RecordFailure(err, true)
	attrs := []any{slog.Any("error", err)}
	if meta, merr := r.config.Registry.Metadata(); merr == nil && meta.BuildEpoch > 0 {
		attrs = append(attrs, slog.Duration("database_age", time.Since(time.Unix(meta.BuildEpoch, 0))))
	}
	logger.Warn("refresh failed, serving existing database", attrs...)
	return nil
}

// ensureLoaded guarantees the registry holds a handle, opening the canonical
// artifact when necessary. A ready registry is left untouched.
func (r *Refresher) ensureLoaded(ctx context.Context, logger *slog.Logger) error {
	if r.config.Registry.Ready() {
		return nil
	}
	if !r.config.Layout.HasDatabase() {
		return observability.NewErrorContext(
			"DATABASE_MISSING", observability.CategoryPermanent, "database_reload").
			WithError(fmt.Errorf("no artifact at %s", r.config.Layout.DatabasePath()))
	}

	handle, err := geodb.Open(r.config.Layout.DatabasePath())
	if err != nil {
		// Drop the validator so the next fetch is unconditional. Keeping
		// it would let upstream answer 304 for an artifact we cannot
		// open, and the cycle would never recover.
		if werr := r.config.Layout.WriteETag(""); werr != nil {
			logger.Warn("failed to clear validator token", slog.Any("error", werr))
		}
		return observability.Wrap(
			fmt.Errorf("opening existing artifact: %w", err),
			"DATABASE_OPEN_FAILED", observability.CategoryPermanent, "database_reload")
	}

	r.config.Registry.Replace(handle)
	meta := handle.Metadata()
	r.status.SetDatabase(meta)
	r.config.Audit.LogDatabaseReload(ctx, r.config.Layout.DatabasePath(), meta.BuildEpoch)
	logger.Info("database loaded from disk",
		slog.Int64("build_epoch", meta.BuildEpoch),
		slog.String("database_type", meta.DatabaseType),
	)
	return nil
}

// reload reopens the canonical artifact from disk, replacing whatever handle
// is live. Static-mode deployments use this to pick up files swapped in by
// an operator.
func (r *Refresher) reload(ctx context.Context, logger *slog.Logger) error {
	r.status.SetState(StateInstalling)

	handle, err := geodb.Open(r.config.Layout.DatabasePath())
	if err != nil {
		rerr := observability.Wrap(
			fmt.Errorf("opening artifact: %w", err),
			"DATABASE_OPEN_FAILED", observability.CategoryPermanent, "database_reload")
		if r.config.Registry.Ready() {
			r.status.RecordFailure(rerr, true)
			logger.Warn("reload failed, serving existing handle", slog.Any("error", err))
			return nil
		}
		return rerr
	}

	r.config.Registry.Replace(handle)
	r.flushCache(logger)

	meta := handle.Metadata()
	r.status.SetDatabase(meta)
	r.status.RecordChecked(time.Now())
	r.config.Audit.LogDatabaseReload(ctx, r.config.Layout.DatabasePath(), meta.BuildEpoch)
	logger.Info("database reloaded from disk",
		slog.String("path", r.config.Layout.DatabasePath()),
		slog.Int64("build_epoch", meta.BuildEpoch),
	)
	return nil
}

// flushCache empties the lookup cache so no cached answer outlives the
// artifact that produced it.
func (r *Refresher) flushCache(logger *slog.Logger) {
	if r.config.Cache == nil {
		return
	}
	if err := r.config.Cache.Flush(); err != nil {
		logger.Warn("failed to flush lookup cache", slog.Any("error", err))
		return
	}
	logger.Debug("lookup cache flushed")
}
