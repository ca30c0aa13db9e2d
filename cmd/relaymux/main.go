package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/internal/server"
	"github.com/ajitpratap0/relaymux/pkg/config"
	"github.com/ajitpratap0/relaymux/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "relaymux",
		Short: "Relaymux - Deduplicating broadcast relay",
		Long: `Relaymux is a broadcast relay that multiplexes many downstream consumers
onto a single shared upstream connection per routing key, fanning every
upstream frame out to all subscribed consumers.`,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relaymux v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// Main serve command
	var configFile, listenAddr, upstreamAddr, logLevel string
	var workers int
	var connectTimeout time.Duration

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server with the specified configuration. Flags override
values from the configuration file.

Example:
  relaymux serve --config relaymux.yaml --upstream feed.example.com:4000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listenAddr
			}
			if cmd.Flags().Changed("upstream") {
				cfg.Upstream.Address = upstreamAddr
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("connect-timeout") {
				cfg.Upstream.ConnectTimeout = config.Duration(connectTimeout)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			return serve(cfg)
		},
	}

	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9230", "Address to accept downstream consumers on")
	serveCmd.Flags().StringVar(&upstreamAddr, "upstream", "", "Address of the upstream broadcast source")
	serveCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Number of worker shards, each with an independent broadcast pool")
	serveCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Timeout for each upstream connect attempt")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the YAML configuration, falling back to defaults when
// no file is given.
func loadConfig(filename string) (*config.Config, error) {
	if filename == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(filename)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// serve runs the relay until SIGINT or SIGTERM.
func serve(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(zap.String("component", "relaymux-cli"))

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics endpoint listening", zap.String("address", cfg.Metrics.Listen))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer func() { _ = metricsSrv.Close() }()
	}

	srv := server.New(cfg, logger.Get())
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("relaymux started",
		zap.String("listen", srv.Addr().String()),
		zap.String("upstream", cfg.Upstream.Address),
		zap.Int("workers", cfg.Workers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info("shutting down", zap.String("signal", sig.String()))
	srv.Stop()
	log.Info("shutdown complete")
	return nil
}
