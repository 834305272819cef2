// guardianctl - Local control tool for guardiand
//
//	guardianctl status     Show daemon health and per-source sync state
//	guardianctl metrics    Dump the daemon's metrics
//	guardianctl wake       Ask a running daemon to sync now
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"guardiand/internal/config"
	"guardiand/internal/health"
	"guardiand/internal/sched"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	if *configPath == "" {
		*configPath = config.ConfigPath()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardianctl: load configuration: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "status":
		err = cmdStatus(cfg)
	case "metrics":
		err = cmdMetrics(cfg)
	case "wake":
		err = cmdWake(cfg)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardianctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`guardianctl - control a running guardiand

USAGE:
    guardianctl [-config path] <command>

COMMANDS:
    status     Show daemon health and per-source sync state
    metrics    Dump the daemon's metrics
    wake       Ask the daemon to sync now
    help       Show this help message`)
}

func cmdStatus(cfg *config.Config) error {
	body, err := fetch(cfg, "/status")
	if err != nil {
		return err
	}

	var report health.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Printf("status:  %s\n", report.Status)
	fmt.Printf("version: %s\n", report.Version)
	fmt.Printf("uptime:  %s\n", report.Uptime)
	for name, src := range report.Sources {
		state := "ok"
		if src.Stale {
			state = "STALE"
		}
		fmt.Printf("  %-20s %s  last sync %s", name, state, src.LastSync.Format(time.RFC3339))
		if src.LastError != "" {
			fmt.Printf("  (%s)", src.LastError)
		}
		fmt.Println()
	}
	return nil
}

func cmdMetrics(cfg *config.Config) error {
	body, err := fetch(cfg, "/metrics")
	if err != nil {
		return err
	}
	os.Stdout.Write(body)
	return nil
}

// cmdWake tries the session bus first and falls back to touching the
// wake file, matching the two paths the daemon listens on.
func cmdWake(cfg *config.Config) error {
	if conn, err := dbus.ConnectSessionBus(); err == nil {
		defer conn.Close()
		if err := conn.Emit("/io/guardiand/Supervisor", "io.guardiand.Supervisor.Wake"); err == nil {
			fmt.Println("wake signal sent")
			return nil
		}
	}

	wakePath := filepath.Join(cfg.StateDir, sched.WakeFileName)
	if err := os.WriteFile(wakePath, []byte(time.Now().Format(time.RFC3339)+"\n"), 0600); err != nil {
		return fmt.Errorf("touch wake file: %w", err)
	}
	fmt.Println("wake file touched")
	return nil
}

func fetch(cfg *config.Config, path string) ([]byte, error) {
	if cfg.Health.ListenAddr == "" {
		return nil, fmt.Errorf("health endpoint disabled in configuration")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.Health.ListenAddr + path)
	if err != nil {
		return nil, fmt.Errorf("is guardiand running? %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
