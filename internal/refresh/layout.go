// ABOUTME: On-disk layout of the database artifact and its sidecar markers
// ABOUTME: Canonical file, staging scratch, validator token, and last-checked stamp

package refresh

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File names within the data directory. The artifact name is fixed so a
// restarted process finds what the previous one installed.
const (
	databaseFile = "database.mmdb"
	etagFile     = "etag"
	stampFile    = "stamp"

	// spoolSuffix marks the raw download scratch file, stageSuffix the
	// decoded payload awaiting validation and rename. Both live next to
	// the canonical artifact so the final install is a same-filesystem
	// rename, never a copy.
	spoolSuffix = ".temp"
	stageSuffix = ".temp2"
)

// Layout resolves the canonical artifact path and its sidecar files inside
// one data directory. All refresh-cycle filesystem state goes through it.
type Layout struct {
	dir string
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{dir: dir}
}

// Dir returns the data directory.
func (l Layout) Dir() string {
	return l.dir
}

// DatabasePath returns the canonical artifact path.
func (l Layout) DatabasePath() string {
	return filepath.Join(l.dir, databaseFile)
}

// SpoolPath returns the scratch path holding a raw download before
// extraction.
func (l Layout) SpoolPath() string {
	return filepath.Join(l.dir, databaseFile+spoolSuffix)
}

// StagePath returns the scratch path holding a decoded payload before it is
// validated and renamed onto the canonical path.
func (l Layout) StagePath() string {
	return filepath.Join(l.dir, databaseFile+stageSuffix)
}

// ETagPath returns the validator token sidecar path.
func (l Layout) ETagPath() string {
	return filepath.Join(l.dir, etagFile)
}

// StampPath returns the last-checked marker path. Its modification time is
// the signal; the content is irrelevant.
func (l Layout) StampPath() string {
	return filepath.Join(l.dir, stampFile)
}

// EnsureDir creates the data directory if it does not exist.
func (l Layout) EnsureDir() error {
	return os.MkdirAll(l.dir, 0o755)
}

// HasDatabase reports whether a canonical artifact exists on disk.
func (l Layout) HasDatabase() bool {
	info, err := os.Stat(l.DatabasePath())
	return err == nil && info.Mode().IsRegular()
}

// ReadETag returns the stored validator token, or empty when none exists.
func (l Layout) ReadETag() string {
	data, err := os.ReadFile(l.ETagPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteETag persists the validator token. An empty token removes the sidecar
// so a stale value can never vouch for a newer artifact.
func (l Layout) WriteETag(etag string) error {
	if etag == "" {
		err := os.Remove(l.ETagPath())
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(l.ETagPath(), []byte(etag), 0o644)
}

// TouchStamp records that upstream was checked just now.
func (l Layout) TouchStamp() error {
	path := l.StampPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return err
		}
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// LastChecked returns the time of the last successful upstream check. The
// second return is false when no check has ever completed.
func (l Layout) LastChecked() (time.Time, bool) {
	info, err := os.Stat(l.StampPath())
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// CleanStaging removes leftover scratch files from an interrupted cycle.
// Best effort; a failure here only wastes disk space.
func (l Layout) CleanStaging() {
	os.Remove(l.SpoolPath())
	os.Remove(l.StagePath())
}
