package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"paint-server/internal/config"
	"paint-server/internal/metrics"
	"paint-server/internal/repository"
	"paint-server/internal/server"
	"paint-server/internal/service"

	"github.com/containerd/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		reportError(ctx, err, os.Stderr)
		stop()
		os.Exit(1)
	}
}

// reportError writes the fatal diagnostic to stderr, even when logging was
// pointed at stdout.
func reportError(ctx context.Context, err error, stderr io.Writer) {
	log.L.Logger.SetOutput(stderr)
	log.G(ctx).WithError(err).Error("web server failed")
}

// parseConfig builds the configuration from defaults, an optional TOML
// file and finally the flags that were set explicitly.
func parseConfig(args []string, output io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "path to a TOML config file")
	port := fs.Int("port", config.DefaultPort, "HTTP server port")
	host := fs.String("host", "", "interface to bind, empty for all")
	dir := fs.String("dir", config.DefaultDir, "directory of static files to serve")
	entry := fs.String("entry", config.DefaultEntry, "file served for /")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "log level")
	logFormat := fs.String("log-format", config.DefaultLogFormat, "log format: text or json")
	metricsPath := fs.String("metrics-path", "", "serve request counters as JSON on this path")
	accessLog := fs.String("access-log", "", "path to SQLite database for the access log")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "host":
			cfg.Host = *host
		case "dir":
			cfg.Dir = *dir
		case "entry":
			cfg.Entry = *entry
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "metrics-path":
			cfg.MetricsPath = *metricsPath
		case "access-log":
			cfg.AccessLogDB = *accessLog
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setupLogging(cfg config.Config, stdout io.Writer) error {
	log.L.Logger.SetOutput(stdout)
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	format := log.TextFormat
	if cfg.LogFormat == "json" {
		format = log.JSONFormat
	}
	return log.SetFormat(format)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := parseConfig(args, stdout)
	if err != nil {
		return err
	}

	if err := setupLogging(cfg, stdout); err != nil {
		return err
	}

	metricsInstance := metrics.NewMetrics()
	opts := []server.Option{
		server.WithMetrics(metricsInstance),
		server.WithOutput(stdout),
	}

	var repo *repository.SQLiteRepository
	var accessLog *service.AccessLogService
	if cfg.AccessLogDB != "" {
		repo, err = repository.NewSQLiteRepository(cfg.AccessLogDB)
		if err != nil {
			return fmt.Errorf("failed to initialize access log: %w", err)
		}
		defer repo.Close()

		accessLog = service.NewAccessLogService(repo, metricsInstance,
			service.DefaultBufferSize, service.DefaultBatchSize, service.DefaultFlushInterval)
		opts = append(opts, server.WithAccessLog(accessLog), server.WithAccessLogReader(repo))
	}

	s, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.Listen(); err != nil {
		return err
	}

	if accessLog == nil {
		return s.Serve(ctx)
	}

	logCtx, cancelLog := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := accessLog.Run(logCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.G(ctx).WithError(err).Error("access log stopped")
		}
	}()

	serveErr := s.Serve(ctx)

	// requests are drained by now, so the last records are already queued
	cancelLog()
	wg.Wait()

	logAccessSummary(context.WithoutCancel(ctx), repo)

	return serveErr
}

func logAccessSummary(ctx context.Context, repo repository.AccessRepository) {
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		log.G(ctx).WithError(err).Warn("failed to summarize access log")
		return
	}

	fields := log.Fields{}
	for _, c := range counts {
		fields["status_"+strconv.Itoa(c.Status)] = c.Count
	}
	log.G(ctx).WithFields(fields).Info("access log summary")
}
