//go:build !linux

package health

// CheckConntrack reports that connection tracking needs linux.
func CheckConntrack() Check {
	return Check{Name: "conntrack", Status: StatusWarn, Message: "requires linux"}
}

// CheckLeaseFile is a no-op off linux.
func CheckLeaseFile(path string) Check {
	return Check{Name: "leases", Status: StatusWarn, Message: "requires linux"}
}
