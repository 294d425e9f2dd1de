//go:build linux

package identity

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
)

// NeighborSource reads the kernel IPv4 neighbor table via netlink. A
// reachable neighbor entry is direct evidence of recent traffic, which the
// lease file cannot provide.
type NeighborSource struct {
	Clock clock.Clock
}

// NewNeighborSource creates a neighbor table source.
func NewNeighborSource() *NeighborSource {
	return &NeighborSource{Clock: &clock.RealClock{}}
}

// Read lists the neighbor table in one netlink dump.
func (s *NeighborSource) Read(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("neighbor dump: %w", err)
	}

	now := s.Clock.Now()
	var records []Record
	for _, n := range neighs {
		if len(n.HardwareAddr) == 0 {
			continue
		}
		// Failed and incomplete entries carry no usable mapping.
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE) != 0 {
			continue
		}
		mac, err := config.NormalizeMAC(n.HardwareAddr.String())
		if err != nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		rec := Record{MAC: mac, IP: ip.Unmap()}
		if n.State&(netlink.NUD_REACHABLE|netlink.NUD_DELAY|netlink.NUD_PROBE) != 0 {
			rec.LastActive = now
		}
		records = append(records, rec)
	}
	return records, nil
}
