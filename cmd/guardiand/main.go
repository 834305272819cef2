// guardiand - Child-device capture and sync daemon
//
// guardiand watches three input channels on the device (the app-usage
// journal, the desktop notification feed, and the UI-snapshot spool),
// normalizes and deduplicates what they produce, and syncs the results
// to the family ledger. It also polls the controller's restriction
// document and serves a local health/metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"guardiand/internal/config"
	"guardiand/internal/control"
	"guardiand/internal/cursor"
	"guardiand/internal/dedup"
	"guardiand/internal/extract"
	"guardiand/internal/health"
	"guardiand/internal/logging"
	"guardiand/internal/metrics"
	"guardiand/internal/remote"
	"guardiand/internal/sched"
	"guardiand/internal/source"
	"guardiand/internal/uploader"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("guardiand %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "guardiand: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logging.New(cfg.Logging, "guardiand")
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log.Info("starting", "version", version, "state_dir", cfg.StateDir)

	// The device key is required up front: without it every ledger write
	// would be rejected, so there is nothing useful to start.
	identity, err := remote.LoadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}

	store, err := cursor.Open(filepath.Join(cfg.StateDir, "cursors.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	dd, err := dedup.New(time.Duration(cfg.Dedup.WindowSec)*time.Second, cfg.Dedup.ContentCacheSize)
	if err != nil {
		return fmt.Errorf("initialize dedup caches: %w", err)
	}

	var adapters []source.Adapter
	var notify *source.NotifyAdapter
	if cfg.Sources.Usage.Enabled {
		adapters = append(adapters, source.NewUsageAdapter(cfg.Sources.Usage, log))
	}
	if cfg.Sources.Notify.Enabled {
		notify = source.NewNotifyAdapter(cfg.Sources.Notify, log)
		if err := notify.Start(); err != nil {
			log.Warn("notification monitor unavailable", "error", err)
		}
		defer notify.Stop()
		adapters = append(adapters, notify)
	}
	if cfg.Sources.Snapshot.Enabled {
		adapters = append(adapters, source.NewSnapshotAdapter(cfg.Sources.Snapshot, log))
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no capture sources enabled")
	}

	client := remote.New(cfg.Remote, identity, log)
	controls := control.NewManager(client, log)
	reg := metrics.NewRegistry()
	checker := health.NewChecker(version, time.Duration(cfg.Sync.BackstopIntervalMin)*2*time.Minute)

	up := uploader.New(client, cfg.Upload.ChunkSize, uploader.RetryPolicy{
		Attempts: cfg.Sync.RetryMax,
		Base:     time.Duration(cfg.Sync.RetryBaseMs) * time.Millisecond,
	}, log)

	coord := sched.NewCoordinator(sched.Options{
		Store:     store,
		Adapters:  adapters,
		Extractor: extract.New(log),
		Dedup:     dd,
		Uploader:  up,
		Status:    client,
		Controls:  controls,
		Health:    checker,
		Metrics:   reg,
		Log:       log,
		DeviceID:  cfg.Identity.DeviceID,
		Version:   version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootID := sched.BootID()
	if err := sched.EnsureBootRestart(ctx, coord, store, bootID, log); err != nil {
		log.Warn("boot restart check failed", "error", err)
	}

	continuous := sched.NewContinuous(coord, cfg.Sync, log)
	continuous.Start(ctx)
	defer continuous.Stop()
	if _, err := store.RegisterTask(sched.TaskContinuous, bootID, false); err != nil {
		log.Warn("task registration failed", "task", sched.TaskContinuous, "error", err)
	}

	backstop := sched.NewBackstop(coord, store,
		time.Duration(cfg.Sync.BackstopIntervalMin)*time.Minute, bootID, log)
	if err := backstop.Start(ctx); err != nil {
		return err
	}
	defer backstop.Stop()

	shortWindow := sched.NewWindowRunner(coord, sched.TaskShortWindow,
		time.Duration(cfg.Sync.MessageIntervalSec)*4*time.Second,
		time.Duration(cfg.Sync.ShortWindowBudgetSec)*time.Second, log)
	shortWindow.Start(ctx)
	defer shortWindow.Stop()

	longWindow := sched.NewWindowRunner(coord, sched.TaskLongWindow,
		time.Duration(cfg.Sync.BackstopIntervalMin)*2*time.Minute,
		time.Duration(cfg.Sync.LongWindowBudgetSec)*time.Second, log)
	longWindow.Start(ctx)
	defer longWindow.Stop()

	wake := sched.NewWakeListener(coord, continuous.Kick, cfg.StateDir, log)
	wake.Start(ctx)
	defer wake.Stop()

	var srv *http.Server
	if cfg.Health.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", checker.Handler())
		mux.Handle("/metrics", reg.Handler())
		srv = &http.Server{Addr: cfg.Health.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("health endpoint failed", "error", err)
			}
		}()
		log.Info("health endpoint listening", "addr", cfg.Health.ListenAddr)
	}

	<-ctx.Done()
	log.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return nil
}
