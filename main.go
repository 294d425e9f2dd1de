package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/curfew/cmd"
	"grimm.is/curfew/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultConfig := brand.DefaultConfigPath()

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", defaultConfig, "Configuration file")
		startFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		debug := startFlags.Bool("debug", false, "Enable debug logging")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunDaemon(*configFile, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("v", false, "Verbose output")
		checkFlags.Parse(os.Args[2:])

		configFile := defaultConfig
		if checkFlags.NArg() > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := statusFlags.String("config", defaultConfig, "Configuration file")
		addr := statusFlags.String("addr", "", "API address (overrides config)")
		statusFlags.Parse(os.Args[2:])

		if err := cmd.RunStatus(cmd.ResolveAddr(*configFile, *addr)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "usage":
		usageFlags := flag.NewFlagSet("usage", flag.ExitOnError)
		configFile := usageFlags.String("config", defaultConfig, "Configuration file")
		addr := usageFlags.String("addr", "", "API address (overrides config)")
		usageFlags.Parse(os.Args[2:])

		if err := cmd.RunUsage(cmd.ResolveAddr(*configFile, *addr)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "override":
		ovFlags := flag.NewFlagSet("override", flag.ExitOnError)
		configFile := ovFlags.String("config", defaultConfig, "Configuration file")
		addr := ovFlags.String("addr", "", "API address (overrides config)")
		minutes := ovFlags.Int("minutes", 30, "Override duration in minutes")
		ovFlags.IntVar(minutes, "m", 30, "Override duration (short)")
		reason := ovFlags.String("reason", "", "Reason shown in status and logs")
		ovFlags.StringVar(reason, "r", "", "Reason (short)")
		block := ovFlags.Bool("block", false, "Block the device instead of allowing it")
		ovFlags.Parse(os.Args[2:])

		if ovFlags.NArg() < 1 {
			fmt.Fprintf(os.Stderr, "usage: %s override [-m minutes] [-r reason] [--block] <mac>\n", brand.BinaryName)
			os.Exit(1)
		}
		if err := cmd.RunOverride(cmd.ResolveAddr(*configFile, *addr),
			ovFlags.Arg(0), *minutes, *reason, *block); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "revoke":
		rvFlags := flag.NewFlagSet("revoke", flag.ExitOnError)
		configFile := rvFlags.String("config", defaultConfig, "Configuration file")
		addr := rvFlags.String("addr", "", "API address (overrides config)")
		rvFlags.Parse(os.Args[2:])

		if rvFlags.NArg() < 1 {
			fmt.Fprintf(os.Stderr, "usage: %s revoke <mac>\n", brand.BinaryName)
			os.Exit(1)
		}
		if err := cmd.RunRevoke(cmd.ResolveAddr(*configFile, *addr), rvFlags.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "reconcile":
		rcFlags := flag.NewFlagSet("reconcile", flag.ExitOnError)
		configFile := rcFlags.String("config", defaultConfig, "Configuration file")
		addr := rcFlags.String("addr", "", "API address (overrides config)")
		rcFlags.Parse(os.Args[2:])

		if err := cmd.RunReconcile(cmd.ResolveAddr(*configFile, *addr)); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "reset":
		rsFlags := flag.NewFlagSet("reset", flag.ExitOnError)
		configFile := rsFlags.String("config", defaultConfig, "Configuration file")
		addr := rsFlags.String("addr", "", "API address (overrides config)")
		scope := rsFlags.String("scope", "daily", "Counters to reset: daily or weekly")
		rsFlags.Parse(os.Args[2:])

		if err := cmd.RunReset(cmd.ResolveAddr(*configFile, *addr), *scope); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s %s (%s, built %s)\n", brand.Name, brand.Version, brand.GitCommit, brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage: %s <command> [options]

Commands:
  start      Run the enforcement daemon
  check      Validate a configuration file
  status     Show current device verdicts and overrides
  usage      Show per-profile budget positions
  override   Grant extra time (or a manual block) for a device
  revoke     Remove a device's override
  reconcile  Force an immediate enforcement pass
  reset      Zero usage counters
  version    Print version information

Run '%s <command> -h' for command options.
`, brand.Name, brand.Get().Tagline, brand.BinaryName, brand.BinaryName)
}
