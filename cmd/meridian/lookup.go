// ABOUTME: Lookup command for one-shot address lookups
// ABOUTME: Reads the local artifact directly or queries a running daemon over NATS

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-io/meridian/internal/config"
	"github.com/meridian-io/meridian/internal/geodb"
	"github.com/meridian-io/meridian/internal/queue"
	"github.com/meridian-io/meridian/internal/refresh"
)

func newLookupCmd() *cobra.Command {
	var (
		dataDir    string
		natsMode   bool
		natsURL    string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <address>",
		Short: "Look up an IP address",
		Long: `Look up the location record for an IP address.

By default the command opens the database artifact in the data directory
directly. --nats sends the lookup to a running daemon over the queue
instead, which answers from the daemon's live database and cache.

Examples:
  meridian lookup 81.2.69.142
  meridian lookup 2001:db8::1 --json
  meridian lookup 81.2.69.142 --nats`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[0], err)
			}

			if natsMode {
				url := natsURL
				if !cmd.Flags().Changed("nats-url") {
					if v := os.Getenv("NATS_URL"); v != "" {
						url = v
					}
				}
				return lookupNATS(cmd.Context(), addr, url, outputJSON)
			}
			return lookupLocal(addr, resolveDataDir(cmd, dataDir), outputJSON)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory for the database artifact")
	cmd.Flags().BoolVar(&natsMode, "nats", false, "query a running daemon over NATS instead of the local artifact")
	cmd.Flags().StringVar(&natsURL, "nats-url", "nats://localhost:4222", "NATS server URL")
	cmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "output as JSON")

	return cmd
}

func lookupLocal(addr netip.Addr, dataDir string, outputJSON bool) error {
	layout := refresh.NewLayout(dataDir)
	handle, err := geodb.Open(layout.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening database (run \"meridian db update\" first): %w", err)
	}
	defer handle.Close()

	start := time.Now()
	city, found, err := handle.Lookup(addr)
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	resp := queue.LookupResponse{
		IP:           addr.String(),
		Status:       queue.StatusNotFound,
		BuildEpoch:   handle.Metadata().BuildEpoch,
		LookupTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
		ResolvedAt:   time.Now().UTC(),
	}
	if found {
		resp.Status = queue.StatusFound
		resp.City = city
	}

	return printLookupResponse(&resp, outputJSON)
}

func lookupNATS(ctx context.Context, addr netip.Addr, natsURL string, outputJSON bool) error {
	cfg := queue.DefaultNATSConfig()
	cfg.URL = natsURL

	// Connection chatter stays off the terminal; failures come back as
	// returned errors.
	client, err := queue.NewClient(cfg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to NATS (is the daemon running?): %w", err)
	}
	defer client.Close()

	resp, err := client.Lookup(ctx, queue.LookupRequest{IP: addr.String()})
	if err != nil {
		return fmt.Errorf("lookup request: %w", err)
	}
	if resp.Status == queue.StatusError {
		return fmt.Errorf("daemon rejected lookup: %s", resp.Error)
	}

	return printLookupResponse(resp, outputJSON)
}

func printLookupResponse(resp *queue.LookupResponse, outputJSON bool) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("Address:  %s\n", resp.IP)
	if resp.Status != queue.StatusFound || resp.City == nil {
		fmt.Println("Status:   no record")
		return nil
	}

	city := resp.City
	if name := city.City.Names["en"]; name != "" {
		fmt.Printf("City:     %s\n", name)
	}
	for _, sub := range city.Subdivisions {
		if name := sub.Names["en"]; name != "" {
			fmt.Printf("Region:   %s (%s)\n", name, sub.ISOCode)
		}
	}
	if name := city.Country.Names["en"]; name != "" {
		fmt.Printf("Country:  %s (%s)\n", name, city.Country.ISOCode)
	}
	if city.Location.Latitude != 0 || city.Location.Longitude != 0 {
		fmt.Printf("Location: %.4f, %.4f\n", city.Location.Latitude, city.Location.Longitude)
	}
	if city.Location.TimeZone != "" {
		fmt.Printf("Timezone: %s\n", city.Location.TimeZone)
	}
	if city.Postal.Code != "" {
		fmt.Printf("Postal:   %s\n", city.Postal.Code)
	}
	if resp.BuildEpoch != 0 {
		fmt.Printf("Build:    %s\n", time.Unix(resp.BuildEpoch, 0).UTC().Format("2006-01-02"))
	}
	fmt.Printf("Lookup:   %.3fms (cache=%v)\n", resp.LookupTimeMs, resp.CacheHit)

	return nil
}
