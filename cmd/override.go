package cmd

import (
	"fmt"
	"time"

	"grimm.is/curfew/internal/client"
)

// RunOverride grants extra time (or a manual block) for a device.
func RunOverride(addr, mac string, minutes int, reason string, block bool) error {
	ov, err := client.New(addr).Grant(mac, minutes, reason, block)
	if err != nil {
		return err
	}
	verb := "allowed"
	if ov.Block {
		verb = "blocked"
	}
	fmt.Printf("%s %s until %s\n", ov.MAC, verb, ov.ExpiresAt.Format(time.RFC3339))
	return nil
}

// RunRevoke removes a device's override.
func RunRevoke(addr, mac string) error {
	if err := client.New(addr).Revoke(mac); err != nil {
		return err
	}
	fmt.Printf("override revoked for %s\n", mac)
	return nil
}

// RunReconcile triggers an immediate enforcement pass.
func RunReconcile(addr string) error {
	report, err := client.New(addr).Reconcile()
	if err != nil {
		return err
	}
	fmt.Printf("reconciled in %s: %d online, %d blocked, %d added, %d removed\n",
		report.Duration.Round(time.Millisecond),
		report.Online, report.Blocked, report.Added, report.Removed)
	if report.Errors > 0 {
		fmt.Printf("warning: %d errors during sync\n", report.Errors)
	}
	return nil
}

// RunReset zeroes usage counters.
func RunReset(addr, scope string) error {
	if err := client.New(addr).Reset(scope); err != nil {
		return err
	}
	fmt.Printf("%s usage counters reset\n", scope)
	return nil
}
