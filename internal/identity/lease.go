package identity

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
)

// LeaseFileSource reads a dnsmasq lease database. Each line is
// "expiry mac ip hostname client-id"; expired leases are skipped.
type LeaseFileSource struct {
	Path  string
	Clock clock.Clock
}

// NewLeaseFileSource creates a source reading the given lease file.
func NewLeaseFileSource(path string) *LeaseFileSource {
	return &LeaseFileSource{Path: path, Clock: &clock.RealClock{}}
}

// Read parses the lease file. A missing file is an empty network, not an
// error; dnsmasq creates it on the first lease.
func (s *LeaseFileSource) Read(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open lease file: %w", err)
	}
	defer f.Close()

	now := s.Clock.Now()
	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := parseLeaseLine(scanner.Text(), now)
		if ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lease file: %w", err)
	}
	return records, nil
}

func parseLeaseLine(line string, now time.Time) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Record{}, false
	}

	expiry, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, false
	}
	// dnsmasq writes 0 for infinite leases
	if expiry != 0 && time.Unix(expiry, 0).Before(now) {
		return Record{}, false
	}

	mac, err := config.NormalizeMAC(fields[1])
	if err != nil {
		return Record{}, false
	}
	ip, err := netip.ParseAddr(fields[2])
	if err != nil {
		return Record{}, false
	}

	rec := Record{MAC: mac, IP: ip}
	if len(fields) >= 4 && fields[3] != "*" {
		rec.Hostname = fields[3]
	}
	return rec, true
}
