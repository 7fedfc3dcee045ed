package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/ui"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

// Options holds CLI configuration.
type Options struct {
	Interval   time.Duration
	DaemonMode bool
	JSONMode   bool
	ExportMode bool
	Addr       string
	DataDir    string
	BundlePath string
	RecordPath string
	ReplayPath string
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `qplane v%s — adaptive execution control plane for serverless workflow meshes

Usage:
  qplane [OPTIONS] [INTERVAL]

Modes:
  (default)         Interactive watch TUI over a simulated mesh
  -daemon           Run the control plane service (HTTP API, persistence, event log)
  -json             Fetch one snapshot from a running daemon and print JSON
  -export           Fetch the full Prometheus exposition from a running daemon
  -replay FILE      Replay a recorded snapshot log through the TUI
  -version          Print version and exit

Options:
  -interval N       TUI refresh and simulator feed interval in seconds (default: 1)
  -addr HOST:PORT   Daemon address for -json/-export (default: from config)
  -datadir PATH     Data directory override (default: ~/.local/share/qplane)
  -bundle PATH      Policy bundle override (default: from config)
  -record FILE      Run the TUI while recording snapshots to FILE

Positional:
  INTERVAL          First positional arg sets interval: qplane 5 = qplane -interval 5

Examples:
  qplane                               Watch TUI over the built-in simulator
  qplane 5                             Watch TUI, 5s refresh
  qplane -record /tmp/plane.jsonl      Watch TUI while recording snapshots
  qplane -replay /tmp/plane.jsonl      Replay a recorded run
  qplane -daemon                       Control plane service on the configured address
  qplane -daemon -datadir /var/lib/qplane -bundle /etc/qplane/policies.yaml
  qplane -json | jq '.burn_rate'
  qplane -export | grep qplane_budget
  qplane -version
`, Version)
}

// Run parses flags and starts the selected mode.
func Run() error {
	var opts Options
	var intervalSec int
	var showVersion bool

	flag.IntVar(&intervalSec, "interval", 1, "TUI refresh and simulator feed interval in seconds")
	flag.BoolVar(&opts.DaemonMode, "daemon", false, "Run the control plane service (no TUI)")
	flag.BoolVar(&opts.JSONMode, "json", false, "Fetch one snapshot from a running daemon and exit")
	flag.BoolVar(&opts.ExportMode, "export", false, "Fetch the Prometheus exposition from a running daemon and exit")
	flag.StringVar(&opts.Addr, "addr", "", "Daemon address for -json/-export (default: from config)")
	flag.StringVar(&opts.DataDir, "datadir", "", "Data directory override")
	flag.StringVar(&opts.BundlePath, "bundle", "", "Policy bundle path override")
	flag.StringVar(&opts.RecordPath, "record", "", "Record snapshots to file for later replay")
	flag.StringVar(&opts.ReplayPath, "replay", "", "Replay snapshots from a recorded file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("qplane v%s\n", Version)
		return nil
	}

	// `qplane 5` = `qplane -interval 5`
	if args := flag.Args(); len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			intervalSec = n
		}
	}
	opts.Interval = time.Duration(intervalSec) * time.Second

	cfg := config.Load()
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.BundlePath != "" {
		cfg.PolicyBundlePath = opts.BundlePath
	}
	if opts.Addr == "" {
		opts.Addr = cfg.ListenAddr
	}

	switch {
	case opts.JSONMode:
		return runJSON(opts)
	case opts.ExportMode:
		return runExport(opts)
	case opts.DaemonMode:
		return runDaemon(cfg)
	case opts.ReplayPath != "":
		return runReplay(opts)
	default:
		return runWatch(cfg, opts)
	}
}

// runJSON fetches the current snapshot from the daemon and pretty
// prints it.
func runJSON(opts Options) error {
	body, err := fetch(opts.Addr, "/api/v1/snapshot")
	if err != nil {
		return err
	}

	var snap any
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// runExport streams the daemon's full Prometheus exposition to stdout.
func runExport(opts Options) error {
	body, err := fetch(opts.Addr, "/api/v1/export")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(body)
	return err
}

func fetch(addr, path string) ([]byte, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running on %s? %w", addr, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}
	return body, nil
}

// runWatch runs the TUI over an in-process control plane fed by the
// workload simulator.
func runWatch(cfg config.Config, opts Options) error {
	clock := bus.WallClock{}
	rt := control.NewRuntime(clock, cfg)

	if cfg.PolicyBundlePath != "" {
		b, err := config.LoadBundle(cfg.PolicyBundlePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else if err := rt.ApplyBundle(b); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	defer rt.Stop()

	// The simulator stands in for the executor fleet; each feed is one
	// full round of module rollups.
	sim := control.NewSimulator(clock)
	sim.Feed(rt)
	go func() {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Feed(rt)
			}
		}
	}()

	var src control.Source = rt
	if opts.RecordPath != "" {
		f, err := os.Create(opts.RecordPath)
		if err != nil {
			return fmt.Errorf("cannot create record file: %w", err)
		}
		defer f.Close()
		src = control.NewRecorder(rt, f)
	}

	p := tea.NewProgram(ui.NewModel(src, opts.Interval, false), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// runReplay replays a recorded snapshot log through the TUI.
func runReplay(opts Options) error {
	f, err := os.Open(opts.ReplayPath)
	if err != nil {
		return fmt.Errorf("cannot open replay file: %w", err)
	}
	defer f.Close()

	player, err := control.NewPlayer(f)
	if err != nil {
		return fmt.Errorf("cannot parse replay file: %w", err)
	}
	if player.Len() == 0 {
		return fmt.Errorf("replay file %s holds no snapshots", opts.ReplayPath)
	}

	p := tea.NewProgram(ui.NewModel(player, opts.Interval, true), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
