package recon

import (
	"bufio"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/logging"
)

// DefaultConntrackPath is where the kernel exposes the flow table.
const DefaultConntrackPath = "/proc/net/nf_conntrack"

// ConntrackSampler attributes active connections to tracked services by
// matching flow destinations against each service's address ranges. The flow
// table is parsed at most once per TTL, shared across all devices in a tick.
type ConntrackSampler struct {
	path   string
	clock  clock.Clock
	logger *logging.Logger
	ttl    time.Duration

	mu     sync.Mutex
	ranges map[string][]netip.Prefix

	parsedAt time.Time
	// active maps source address -> live flow count per service.
	active map[netip.Addr]map[string]int
}

// NewConntrackSampler builds a sampler from the configured services. Ranges
// that fail to parse were already warned about at config load and are
// skipped here.
func NewConntrackSampler(services []config.Service, clk clock.Clock, logger *logging.Logger) *ConntrackSampler {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	ranges := make(map[string][]netip.Prefix)
	for _, svc := range services {
		for _, r := range svc.Ranges {
			if p, err := parseRange(r); err == nil {
				ranges[svc.Name] = append(ranges[svc.Name], p)
			}
		}
	}
	return &ConntrackSampler{
		path:   DefaultConntrackPath,
		clock:  clk,
		logger: logger.WithComponent("conntrack"),
		ttl:    10 * time.Second,
		ranges: ranges,
	}
}

func parseRange(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ActiveServices returns the address's live flow count per tracked service.
func (c *ConntrackSampler) ActiveServices(addr netip.Addr) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ranges) == 0 {
		return nil
	}
	if c.active == nil || c.clock.Now().Sub(c.parsedAt) > c.ttl {
		c.refreshLocked()
	}

	svcs := c.active[addr.Unmap()]
	if len(svcs) == 0 {
		return nil
	}
	out := make(map[string]int, len(svcs))
	for name, n := range svcs {
		out[name] = n
	}
	return out
}

// refreshLocked reparses the flow table. A missing or unreadable table means
// no service attribution, not a failure; profile-level accounting continues.
func (c *ConntrackSampler) refreshLocked() {
	c.parsedAt = c.clock.Now()
	c.active = make(map[netip.Addr]map[string]int)

	f, err := os.Open(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cannot read flow table", "path", c.path, "error", err)
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		src, dst, ok := parseFlowLine(scanner.Text())
		if !ok {
			continue
		}
		for name, prefixes := range c.ranges {
			for _, p := range prefixes {
				if p.Contains(dst) {
					if c.active[src] == nil {
						c.active[src] = make(map[string]int)
					}
					c.active[src][name]++
					break
				}
			}
		}
	}
}

// parseFlowLine pulls the original-direction src and dst out of one
// nf_conntrack line. The first src=/dst= pair on the line is the original
// direction; the reply tuple repeats the keys later and is ignored.
func parseFlowLine(line string) (src, dst netip.Addr, ok bool) {
	var haveSrc, haveDst bool
	for _, field := range strings.Fields(line) {
		switch {
		case !haveSrc && strings.HasPrefix(field, "src="):
			if a, err := netip.ParseAddr(field[4:]); err == nil {
				src = a.Unmap()
				haveSrc = true
			}
		case !haveDst && strings.HasPrefix(field, "dst="):
			if a, err := netip.ParseAddr(field[4:]); err == nil {
				dst = a.Unmap()
				haveDst = true
			}
		}
		if haveSrc && haveDst {
			return src, dst, true
		}
	}
	return netip.Addr{}, netip.Addr{}, false
}
