// ABOUTME: Test fixtures building real city database files
// ABOUTME: Produces small mmdb payloads with known networks and records

package geodbtest

import (
	"bytes"
	"net"
	"os"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// DefaultNetworks is the fixture used when Build receives nil.
var DefaultNetworks = map[string]string{
	"81.2.69.0/24": "London",
	"2001:db8::/48": "Zurich",
}

// Build returns a small city database mapping each CIDR to a city name.
// Every record carries a country and location section so decode paths get
// exercised beyond the city name.
func Build(tb testing.TB, networks map[string]string) []byte {
	tb.Helper()

	if networks == nil {
		networks = DefaultNetworks
	}

	writer, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            "GeoLite2-City",
		Description:             map[string]string{"en": "Test city database"},
		IPVersion:               6,
		RecordSize:              28,
		IncludeReservedNetworks: true,
		Languages:               []string{"en"},
	})
	if err != nil {
		tb.Fatalf("creating mmdb writer: %v", err)
	}

	for cidr, city := range networks {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			tb.Fatalf("parsing %s: %v", cidr, err)
		}

		record := mmdbtype.Map{
			"city": mmdbtype.Map{
				"geoname_id": mmdbtype.Uint32(2643743),
				"names":      mmdbtype.Map{"en": mmdbtype.String(city)},
			},
			"country": mmdbtype.Map{
				"geoname_id": mmdbtype.Uint32(2635167),
				"iso_code":   mmdbtype.String("GB"),
				"names":      mmdbtype.Map{"en": mmdbtype.String("United Kingdom")},
			},
			"location": mmdbtype.Map{
				"accuracy_radius": mmdbtype.Uint16(100),
				"latitude":        mmdbtype.Float64(51.5142),
				"longitude":       mmdbtype.Float64(-0.0931),
				"time_zone":       mmdbtype.String("Europe/London"),
			},
		}

		if err := writer.Insert(network, record); err != nil {
			tb.Fatalf("inserting %s: %v", cidr, err)
		}
	}

	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		tb.Fatalf("writing mmdb: %v", err)
	}
	return buf.Bytes()
}

// Write writes a Build database to path.
func Write(tb testing.TB, path string, networks map[string]string) {
	tb.Helper()

	if err := os.WriteFile(path, Build(tb, networks), 0o644); err != nil {
		tb.Fatalf("writing test db: %v", err)
	}
}
