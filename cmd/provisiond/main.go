package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomis52/provisiond/app"
	"github.com/nomis52/provisiond/buildinfo"
	"github.com/nomis52/provisiond/config"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/metrics"
	"github.com/nomis52/provisiond/server"
	"github.com/nomis52/provisiond/service"
	"github.com/nomis52/provisiond/sysupdate"
)

const closeTimeout = 30 * time.Second

type Args struct {
	ConfigPath  string
	ShowVersion bool
	Validate    bool
	APIKeyEnv   string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		fmt.Printf("provisiond %s\n", buildinfo.Get())
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args.Validate {
		fmt.Printf("Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("provisiond started",
		"version", props.Version,
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
	)

	registry, err := metrics.NewScrapeRegistry(cfg.Monitoring.MetricsPrefix)
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	a, err := app.Build(&cfg, logger.Logger, registry)
	if err != nil {
		return fmt.Errorf("failed to build device: %w", err)
	}

	history, err := service.NewDiskStore(cfg.History.Dir, cfg.History.MaxCount, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	svc := service.New(a.Deps,
		service.WithLogger(logger.Logger),
		service.WithHistory(history),
		service.WithMaxTaskLogs(cfg.History.MaxTaskLogs),
		service.WithControllerOptions(a.ControllerOptions...),
	)

	checker, err := sysupdate.NewChecker(a.Services().Packages, a.Snapshots, a.Apps, logger.Logger,
		sysupdate.WithBusy(svc.Busy),
		sysupdate.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("failed to create system update checker: %w", err)
	}
	var trigger *sysupdate.Trigger
	if cfg.SystemUpdate.Enabled {
		trigger, err = sysupdate.NewTrigger(cfg.SystemUpdate.Schedule, checker, logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to schedule system update check: %w", err)
		}
	}

	opts := []server.Option{
		server.WithListenAddr(cfg.Listener.Addr),
		server.WithLogger(logger.Logger),
		server.WithConfig(&cfg),
		server.WithMetricsHandler(registry.Handler()),
		server.WithSystemUpdate(checker, trigger),
	}
	if cfg.Listener.TLSCert != "" {
		opts = append(opts, server.WithTLS(cfg.Listener.TLSCert, cfg.Listener.TLSKey))
	}
	if args.APIKeyEnv != "" {
		key := os.Getenv(args.APIKeyEnv)
		if key == "" {
			return fmt.Errorf("API key variable %s is not set", args.APIKeyEnv)
		}
		opts = append(opts, server.WithAPIKey(key))
	}
	srv, err := server.New(svc, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := svc.Resume(ctx); err != nil {
		logger.Error("failed to resume attempts", "error", err)
	}

	runErr := srv.Run(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil {
		logger.Error("failed to stop attempts", "error", err)
	}
	return runErr
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	apiKeyEnv := flag.String("api-key-env", "", "Environment variable holding the API password")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nprovisiond - device provisioning daemon\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/provisiond/config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c config.yaml --api-key-env PROVISIOND_API_KEY\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config config.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
		APIKeyEnv:   *apiKeyEnv,
	}
}
