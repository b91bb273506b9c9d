// ABOUTME: Installer validating decoded payloads and atomically replacing the artifact
// ABOUTME: Stage write, open-to-validate, rename, then sidecar update in that order

package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/observability"
)

// Installer turns a decoded payload into the live canonical artifact. The
// staging file lives in the same directory as the artifact so the final step
// is a rename, never a copy: readers see either the old inode or the new
// one, nothing in between.
type Installer struct {
	layout Layout
	logger *slog.Logger
}

// NewInstaller creates an installer for the given layout.
func NewInstaller(layout Layout, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{layout: layout, logger: logger}
}

// Install writes payload to the staging path, validates it by opening it
// through the database library, renames it onto the canonical path, and
// persists the validator token. A payload that fails validation is deleted
// without touching the canonical artifact or its sidecars. On success the
// returned handle is open against the canonical path.
func (i *Installer) Install(ctx context.Context, payload []byte, validator string) (*geodb.Handle, error) {
	_, span := observability.StartSpan(ctx, "refresh.install")
	defer span.End()

	if err := i.layout.EnsureDir(); err != nil {
		return nil, observability.Wrap(
			fmt.Errorf("creating data directory: %w", err),
			"DATABASE_INSTALL_FAILED", observability.CategoryTransient, "database_install")
	}

	stage := i.layout.StagePath()
	if err := os.WriteFile(stage, payload, 0o644); err != nil {
		return nil, observability.Wrap(
			fmt.Errorf("writing staging file: %w", err),
			"DATABASE_INSTALL_FAILED", observability.CategoryTransient, "database_install")
	}

	meta, err := geodb.Validate(stage)
	if err != nil {
		os.Remove(stage)
		return nil, observability.Wrap(
			fmt.Errorf("validating payload: %w", err),
			"DATABASE_PAYLOAD_INVALID", observability.CategoryPermanent, "database_install")
	}

	if err := os.Rename(stage, i.layout.DatabasePath()); err != nil {
		os.Remove(stage)
		return nil, observability.Wrap(
			fmt.Errorf("installing artifact: %w", err),
			"DATABASE_INSTALL_FAILED", observability.CategoryTransient, "database_install")
	}

	// Sidecars update only after the artifact is in place, so a crash here
	// costs at most a redundant download on the next check.
	if err := i.layout.WriteETag(validator); err != nil {
		i.logger.Warn("failed to persist validator token", slog.Any("error", err))
	}
	if err := i.layout.TouchStamp(); err != nil {
		i.logger.Warn("failed to touch last-checked stamp", slog.Any("error", err))
	}

	handle, err := geodb.Open(i.layout.DatabasePath())
	if err != nil {
		return nil, observability.Wrap(
			fmt.Errorf("opening installed artifact: %w", err),
			"DATABASE_INSTALL_FAILED", observability.CategoryTransient, "database_install")
	}

	sum := sha256.Sum256(payload)
	i.logger.Debug("database artifact installed",
		slog.String("path", i.layout.DatabasePath()),
		slog.Int("size_bytes", len(payload)),
		slog.String("sha256", hex.EncodeToString(sum[:])),
		slog.Int64("build_epoch", meta.BuildEpoch),
		slog.String("database_type", meta.DatabaseType),
	)

	return handle, nil
}
