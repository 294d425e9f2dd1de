//go:build linux

package health

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CheckConntrack verifies connection tracking is available. Without it,
// service-scoped accounting silently degrades to profile-level only.
func CheckConntrack() Check {
	data, err := os.ReadFile("/proc/sys/net/netfilter/nf_conntrack_count")
	if err != nil {
		return Check{Name: "conntrack", Status: StatusWarn,
			Message: "connection tracking unavailable, service limits inactive"}
	}
	count, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return Check{Name: "conntrack", Status: StatusOK,
		Message: fmt.Sprintf("%d tracked connections", count)}
}

// CheckLeaseFile verifies the DHCP lease database is readable. A missing
// file is normal on a quiet network; an unreadable one is not.
func CheckLeaseFile(path string) Check {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Check{Name: "leases", Status: StatusWarn,
				Message: "lease file absent, no leases issued yet"}
		}
		return Check{Name: "leases", Status: StatusFail, Message: err.Error()}
	}
	return Check{Name: "leases", Status: StatusOK}
}
