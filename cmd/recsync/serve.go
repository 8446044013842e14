package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/recsync/recsync-agent/internal/api"
	"github.com/recsync/recsync-agent/internal/batch"
	"github.com/recsync/recsync-agent/internal/config"
	"github.com/recsync/recsync-agent/internal/db"
	"github.com/recsync/recsync-agent/internal/logging"
	"github.com/recsync/recsync-agent/internal/metrics"
	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/playback"
	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/ui"
)

func runServe(args []string, stdout, stderr io.Writer) error {
	startTime := time.Now()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	port := fs.Int("port", config.DefaultPort, "HTTP port on 127.0.0.1")
	dataDir := fs.String("data-dir", "", "directory for the agent database")
	headless := fs.Bool("headless", false, "run without the system tray")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var o config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			o.Port = port
		case "data-dir":
			o.DataDir = dataDir
		case "headless":
			o.Headless = headless
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	cfg, err := loadConfig(*configPath, o)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting recsync agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))
	if src := cfg.Source(); src != "" {
		logger.Info("loaded config file", "path", logging.SanitizePath(src))
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := batch.NewRepository(database.Conn())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentID, err := ensureSecret(ctx, repo, "agent_id", 16)
	if err != nil {
		return fmt.Errorf("failed to ensure agent ID: %w", err)
	}
	authToken, err := ensureSecret(ctx, repo, api.AuthTokenKey, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(stdout, "║  RECSYNC AGENT %-62s ║\n", config.Version)
	fmt.Fprintln(stdout, "╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(stdout, "║  API URL:    http://127.0.0.1:%-47d ║\n", cfg.Port())
	fmt.Fprintf(stdout, "║  Auth Token: %-64s ║\n", authToken)
	fmt.Fprintf(stdout, "║  Agent ID:   %-64s ║\n", agentID)
	fmt.Fprintln(stdout, "╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(stdout)

	m := metrics.New()

	ffOpts := cfg.FFmpegOptions()
	ffOpts.Logger = logging.WithComponent(logger, "ffmpeg")
	ff := pipeline.NewRealFFmpeg(ffOpts)
	doctor := pipeline.NewCachedDoctor(ff, logger)

	initCtx, initCancel := context.WithTimeout(ctx, doctorTimeout)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else if !caps.Ready {
		logger.Warn("ffmpeg tooling incomplete, batches will fail until it is installed",
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total))
	}
	initCancel()

	svc := batch.NewService(repo, batch.Defaults{
		Align:    cfg.AlignOptions(),
		Policy:   cfg.FailurePolicy(),
		WriteEDL: cfg.WriteEDL(),
	}, logger)

	runner := batch.NewRunner(repo, session.NewProcessor(ff, logger, m), doctor, m, batch.RunnerOptions{
		Workers:      cfg.Workers(),
		PollInterval: cfg.PollInterval(),
	}, logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Batches:   svc,
		Tokens:    repo,
		Runner:    runner,
		Doctor:    doctor,
		Artifacts: playback.NewServer(logger),
		Metrics:   m,
		Logger:    logger,
		StartTime: startTime,
		AgentID:   agentID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
		<-quitCh
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner:  runner,
			Batches: svc,
			Logger:  logger,
			Address: apiServer.Addr(),
			OnQuit:  quit,
		})
		go func() {
			<-quitCh
			tray.Quit()
		}()
		tray.Run()
		quit()
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// SecretStore reads and writes agent configuration values.
type SecretStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// ensureSecret returns the stored value for key, creating a random hex value
// of n bytes on first use.
func ensureSecret(ctx context.Context, store SecretStore, key string, n int) (string, error) {
	existing, err := store.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := store.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
