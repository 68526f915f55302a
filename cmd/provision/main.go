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
	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/metrics"
)

type Args struct {
	ConfigPath  string
	RequestPath string
	Timeout     time.Duration
	ShowVersion bool
	Validate    bool
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
		fmt.Printf("provision %s\n", buildinfo.Get())
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}
	if args.RequestPath == "" {
		return fmt.Errorf("request flag (-r or --request) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	p, err := readRequest(args.RequestPath, os.Stdin)
	if err != nil {
		return err
	}

	if args.Validate {
		fmt.Printf("Configuration and request validation successful: %s, %s\n", args.ConfigPath, args.RequestPath)
		return nil
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("provision started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
		"variant", p.Variant(),
	)

	var registry metrics.Registry = metrics.NopRegistry{}
	var push *metrics.PushRegistry
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
		registry = push
	}

	a, err := app.Build(&cfg, logger.Logger, registry)
	if err != nil {
		return fmt.Errorf("failed to build device: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), args.Timeout)
	defer cancel()

	if err := checkEncryption(ctx, a.Services().Encryption, p); err != nil {
		return err
	}

	host := newPrintHost(os.Stdout)
	ctrl := controller.New(a.Deps, host, append(a.ControllerOptions, controller.WithLogger(logger.Logger))...)
	if err := ctrl.Initialize(ctx, p); err != nil {
		return fmt.Errorf("preconditions: %w", err)
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctrl.Done():
	case sig := <-sigCh:
		logger.Info("received signal, cancelling", "signal", sig)
		ctrl.Cancel()
		<-ctrl.Done()
	}

	if push != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		if err := push.Flush(flushCtx); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}

	if state := ctrl.State(); state != controller.StateSucceeded {
		if cerr := ctrl.Err(); cerr != nil {
			return fmt.Errorf("provisioning %s: %w", state, cerr)
		}
		return fmt.Errorf("provisioning %s", state)
	}
	return nil
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	requestPath := flag.String("request", "", "Path to the JSON provisioning request, - for stdin")
	requestPathShort := flag.String("r", "", "Path to the JSON provisioning request (shorthand)")
	timeout := flag.Duration("timeout", time.Hour, "Upper bound for the whole attempt")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and request, then exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nRuns one provisioning attempt and exits\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/provisiond/config.yaml --request owner.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  cat owner.json | %s -c config.yaml -r -\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}
	request := *requestPath
	if request == "" && *requestPathShort != "" {
		request = *requestPathShort
	}

	return Args{
		ConfigPath:  path,
		RequestPath: request,
		Timeout:     *timeout,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
	}
}
