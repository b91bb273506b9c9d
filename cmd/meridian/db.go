// ABOUTME: Database inspection and update commands for the data directory
// ABOUTME: Provides status and one-shot refresh operations against the artifact

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-io/meridian/internal/config"
	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/observability"
	"github.com/meridian-io/meridian/internal/refresh"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database inspection and maintenance commands",
		Long:  `Commands for inspecting and refreshing the GeoIP database artifact.`,
	}

	cmd.AddCommand(newDBStatusCmd())
	cmd.AddCommand(newDBUpdateCmd())

	return cmd
}

// resolveDataDir honors the DATA_DIR environment variable unless the flag
// was set explicitly, so CLI commands find the same artifact the daemon
// serves.
func resolveDataDir(cmd *cobra.Command, flagValue string) string {
	if !cmd.Flags().Changed("data-dir") {
		if v := os.Getenv("DATA_DIR"); v != "" {
			return v
		}
	}
	return flagValue
}

func newDBStatusCmd() *cobra.Command {
	var (
		dataDir    string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database artifact and sidecar state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dbStatus(resolveDataDir(cmd, dataDir), outputJSON)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory for the database artifact")
	cmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "output as JSON")

	return cmd
}

func newDBUpdateCmd() *cobra.Command {
	var (
		dataDir string
		dbURL   string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run one refresh cycle against the configured source",
		Long: `Fetch the database from the configured source and install it when it
changed. --force skips the stored validator and always re-downloads.

The source URL comes from --db-url or the MAXMIND_DB_URL environment
variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			cfg.ApplyEnv()
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("db-url") {
				cfg.Refresh.URL = dbURL
			}
			return dbUpdate(cmd.Context(), cfg, force)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory for the database artifact")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "database source URL (http(s):// or gs://)")
	cmd.Flags().BoolVar(&force, "force", false, "re-download even when the stored validator matches")

	return cmd
}

// dbStatusDoc is the JSON shape of db status output.
type dbStatusDoc struct {
	DataDir     string          `json:"data_dir"`
	Installed   bool            `json:"installed"`
	Database    *geodb.Metadata `json:"database,omitempty"`
	Validator   string          `json:"validator,omitempty"`
	LastChecked *time.Time      `json:"last_checked,omitempty"`
}

func dbStatus(dataDir string, outputJSON bool) error {
	layout := refresh.NewLayout(dataDir)

	doc := dbStatusDoc{DataDir: layout.Dir()}
	if layout.HasDatabase() {
		handle, err := geodb.Open(layout.DatabasePath())
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer handle.Close()

		meta := handle.Metadata()
		doc.Installed = true
		doc.Database = &meta
	}
	doc.Validator = layout.ReadETag()
	if t, ok := layout.LastChecked(); ok {
		doc.LastChecked = &t
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	fmt.Printf("Data directory: %s\n", doc.DataDir)
	if !doc.Installed {
		fmt.Println("No database installed. Fetch one with:")
		fmt.Println("  meridian db update")
		return nil
	}

	meta := doc.Database
	fmt.Printf("Database:\n")
	fmt.Printf("  Type:       %s\n", meta.DatabaseType)
	fmt.Printf("  Build:      %s (epoch %d)\n",
		time.Unix(meta.BuildEpoch, 0).UTC().Format("2006-01-02 15:04:05"), meta.BuildEpoch)
	fmt.Printf("  IP version: IPv%d\n", meta.IPVersion)
	fmt.Printf("  Nodes:      %d\n", meta.NodeCount)
	if doc.Validator != "" {
		fmt.Printf("  Validator:  %s\n", doc.Validator)
	}
	if doc.LastChecked != nil {
		fmt.Printf("  Last check: %s (%s ago)\n",
			doc.LastChecked.Format("2006-01-02 15:04:05"),
			time.Since(*doc.LastChecked).Round(time.Second))
	}

	return nil
}

func dbUpdate(ctx context.Context, cfg *config.Config, force bool) error {
	if cfg.Refresh.URL == "" {
		return fmt.Errorf("no database URL configured; set --db-url or MAXMIND_DB_URL")
	}

	// Cycle progress goes to stderr so the outcome line stays parseable.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
	}, os.Stderr)

	layout := refresh.NewLayout(cfg.DataDir)
	if err := layout.EnsureDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	source, err := newSource(ctx, cfg.Refresh)
	if err != nil {
		return fmt.Errorf("creating database source: %w", err)
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}

	registry := geodb.NewRegistry()
	defer registry.Close()

	refresher, err := refresh.NewRefresher(refresh.RefresherConfig{
		Source:   source,
		Layout:   layout,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating refresher: %w", err)
	}

	opts := refresh.OptionsFor(refresh.TriggerManual)
	if force {
		opts.IgnoreValidator = true
	}

	if err := refresher.RunOnce(ctx, opts); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	status := refresher.Status()
	meta, err := registry.Metadata()
	if err != nil {
		return fmt.Errorf("no database after refresh: %w", err)
	}

	build := time.Unix(meta.BuildEpoch, 0).UTC().Format("2006-01-02 15:04:05")
	switch {
	case status.State == refresh.StateDegraded:
		fmt.Printf("Source unavailable, keeping installed database (%s build %s)\n", meta.DatabaseType, build)
		fmt.Printf("  Error: %s\n", status.LastError)
	case !status.LastInstall.IsZero():
		fmt.Printf("Installed %s build %s\n", meta.DatabaseType, build)
	default:
		fmt.Printf("Database is up to date (%s build %s)\n", meta.DatabaseType, build)
	}

	return nil
}
