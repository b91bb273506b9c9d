// ABOUTME: Unit tests for db command data directory resolution
// ABOUTME: Verifies the DATA_DIR environment fallback and flag precedence

package main

import (
	"testing"
)

func TestResolveDataDir_EnvFallback(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/meridian-data")

	cmd := newDBStatusCmd()
	got := resolveDataDir(cmd, "/flag/default")
	if got != "/srv/meridian-data" {
		t.Errorf("resolveDataDir() = %q, want %q", got, "/srv/meridian-data")
	}
}

func TestResolveDataDir_FlagWins(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/meridian-data")

	cmd := newDBStatusCmd()
	if err := cmd.Flags().Set("data-dir", "/explicit/dir"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}

	got := resolveDataDir(cmd, "/explicit/dir")
	if got != "/explicit/dir" {
		t.Errorf("resolveDataDir() = %q, want %q", got, "/explicit/dir")
	}
}

func TestResolveDataDir_NoEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "")

	cmd := newDBStatusCmd()
	got := resolveDataDir(cmd, "/flag/default")
	if got != "/flag/default" {
		t.Errorf("resolveDataDir() = %q, want %q", got, "/flag/default")
	}
}
