package main

import (
	"flag"
	"fmt"
	"os"

	"gravbar/internal/autostart"
	"gravbar/internal/cli"
	"gravbar/internal/cloud"
	"gravbar/internal/config"
	"gravbar/internal/creds"
	"gravbar/internal/langserver"
	"gravbar/internal/locator"
	"gravbar/internal/monitor"
	"gravbar/internal/tray"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		return statusCmd(nil)
	}

	switch os.Args[1] {
	case "status":
		return statusCmd(os.Args[2:])
	case "tray":
		return trayCmd(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("gravbar " + Version)
		return 0
	case "help", "--help", "-h":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "gravbar: unknown command %q\n", os.Args[1])
		printHelp()
		return 1
	}
}

// buildMonitor wires the component graph once; everything downstream takes
// explicit references.
func buildMonitor(cfg config.Config) *monitor.Monitor {
	store := creds.NewStore()
	return monitor.New(
		locator.New(),
		langserver.NewClient(),
		cloud.NewClient(store),
		cfg.Interval(),
	)
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gravbar: %v (using defaults)\n", err)
	}
	return cfg
}

func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonMode := fs.Bool("json", false, "output JSON")
	plainMode := fs.Bool("plain", false, "plain text (no color)")
	fs.Parse(args)

	cfg := loadConfig()
	return cli.Status(buildMonitor(cfg), cfg.SortOrder(), *jsonMode, *plainMode)
}

func trayCmd(args []string) int {
	fs := flag.NewFlagSet("tray", flag.ExitOnError)
	install := fs.Bool("install", false, "enable launch at login")
	uninstall := fs.Bool("uninstall", false, "disable launch at login")
	fs.Parse(args)

	if *install {
		if err := autostart.Install(); err != nil {
			fmt.Fprintf(os.Stderr, "gravbar: %v\n", err)
			return 1
		}
		fmt.Println("gravbar will start at login")
		return 0
	}
	if *uninstall {
		if err := autostart.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "gravbar: %v\n", err)
			return 1
		}
		fmt.Println("gravbar autostart removed")
		return 0
	}

	cfg := loadConfig()
	return tray.Run(Version, buildMonitor(cfg), cfg)
}

func printHelp() {
	fmt.Fprintln(os.Stderr, `Usage: gravbar [command] [flags]

Commands:
  status    Show current per-model quota (default)
  tray      Run as menu-bar/tray indicator
  version   Show version
  help      Show this help

Status flags:
  --json    Output as JSON
  --plain   Plain text, no color codes

Tray flags:
  --install    Enable launch at login
  --uninstall  Disable launch at login`)
}
