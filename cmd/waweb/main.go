// Package main runs the waweb HTTP service, which drives the WhatsApp web
// client for one or more devices.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/config"
	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/server"
	"github.com/entrhq/waweb/pkg/whatsapp"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Addr        string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("waweb v%s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cli); err != nil {
		fmt.Fprintf(os.Stderr, "waweb: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.Addr, "addr", "", "Listen address (overrides config and "+config.EnvAddr+")")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "waweb - HTTP service for sending WhatsApp messages\n\n")
		fmt.Fprintf(os.Stderr, "Usage: waweb [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s, %s, %s, %s, %s, %s\n",
			config.EnvHeadless, config.EnvAPIKey, config.EnvSessionTimeout,
			config.EnvAddr, config.EnvLogLevel, config.EnvLogDir)
	}

	flag.Parse()
	return cli
}

func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Dir == "" {
		return logging.New("waweb", os.Stderr, level)
	}
	log, err := logging.NewFileLogger(cfg.Logging.Dir, "waweb", level)
	if err != nil {
		log.Warnf("Logging to stderr: %v", err)
	}
	return log
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()
	log.Infof("Starting waweb v%s (instance %s)", version, logging.InstanceID())

	matchers, err := cfg.DeviceMatchers()
	if err != nil {
		return err
	}

	launcher := browser.NewPlaywrightLauncher(cfg.LauncherConfig(log.With("browser")))
	registry := whatsapp.NewRegistry(launcher, cfg.SessionOptions(log))
	srv := server.New(registry, server.Options{
		APIKey:         cfg.Server.APIKey,
		AllowedDevices: matchers,
		MediaDir:       cfg.Sessions.MediaDir,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         log,
	})
	if cfg.Server.APIKey == "" {
		log.Warnf("No API key configured, every route is unauthenticated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, server.HTTPConfig{
			Addr:            cfg.Server.Addr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MaxConnections:  cfg.Server.MaxConnections,
		})
	})
	g.Go(func() error {
		return registry.RunSweeper(gctx, cfg.Sessions.SweepInterval, cfg.IdleTimeout())
	})
	g.Go(func() error {
		// Closing the sessions aborts pending authentication waits so the
		// HTTP server can drain.
		<-gctx.Done()
		log.Infof("Closing %d session(s)", registry.Len())
		return registry.Shutdown()
	})

	err = g.Wait()
	if stopErr := launcher.Stop(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to stop browser driver: %w", stopErr))
	}
	if err != nil {
		log.Errorf("Shutdown with errors: %v", err)
		return err
	}
	log.Infof("Shutdown complete")
	return nil
}
