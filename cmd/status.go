package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"grimm.is/curfew/internal/client"
)

// RunStatus queries the daemon and prints the current enforcement picture.
func RunStatus(addr string) error {
	c := client.New(addr)

	st, err := c.State()
	if err != nil {
		return fmt.Errorf("%w\nIs the daemon running? Start with: curfew start", err)
	}

	fmt.Println("=== Curfew Status ===")
	if tick := st.LastTick; tick != nil {
		fmt.Printf("Last check: %s (%s ago)\n",
			tick.Started.Format(time.RFC3339), time.Since(tick.Started).Round(time.Second))
		fmt.Printf("Online: %d  Blocked: %d  Errors: %d\n",
			tick.Online, tick.Blocked, tick.Errors)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nDEVICE\tPROFILE\tIP\tVERDICT\tDETAIL")
		for _, v := range tick.Verdicts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Profile, v.IP, v.Verdict, v.Detail)
		}
		w.Flush()
	} else {
		fmt.Println("No reconciliation has run yet.")
	}

	if len(st.Snapshot.Overrides) > 0 {
		fmt.Println("\nActive overrides:")
		for mac, ov := range st.Snapshot.Overrides {
			kind := "allow"
			if ov.Block {
				kind = "block"
			}
			fmt.Printf("  %s  %s until %s  %s\n",
				mac, kind, ov.ExpiresAt.Format("15:04"), ov.Reason)
		}
	}
	return nil
}

// RunUsage prints per-profile budget positions.
func RunUsage(addr string) error {
	usage, err := client.New(addr).Usage()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tTODAY\tWEEK\tLIMIT\tREMAINING")
	for _, p := range usage.Profiles {
		limit, remaining := "-", "-"
		if p.DailyLimit > 0 {
			limit = fmt.Sprintf("%dm", p.DailyLimit)
			remaining = fmt.Sprintf("%dm", p.Remaining)
		}
		fmt.Fprintf(w, "%s\t%dm\t%dm\t%s\t%s\n",
			p.Profile, p.UsageToday, p.UsageWeek, limit, remaining)
	}
	return w.Flush()
}
