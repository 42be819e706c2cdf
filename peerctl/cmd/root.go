package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/andydunstall/peerlink"
	"github.com/andydunstall/peerlink/peerctl/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	cfgFile     string
	port        int
	name        string
	logWithTime bool
	metricsAddr string
	logLevel    string

	// Shared state set during PersistentPreRun
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "peerctl",
	Short:         "Tool for chatting with and benchmarking peers on the local network",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = port
		}
		if flags.Changed("name") {
			cfg.Name = name
		}
		if flags.Changed("log-with-time") {
			cfg.LogWithTime = logWithTime
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr = metricsAddr
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = newLogger(cfg.LogLevel)
		return err
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.peerlink/config.yaml)")
	flags.IntVar(&port, "port", config.DefaultPort, "port to host, join or send datagrams on")
	flags.StringVar(&name, "name", "", "display name shown to other players")
	flags.BoolVar(&logWithTime, "log-with-time", false, "prefix the connection trace with the time")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	conf := zap.NewDevelopmentConfig()
	conf.Level = lvl
	return conf.Build()
}

// transportOptions returns the options shared by every command.
func transportOptions(reg prometheus.Registerer) []peerlink.Option {
	opts := []peerlink.Option{
		peerlink.WithLogger(logger),
		peerlink.WithIdentity(&peerlink.Identity{
			Name: cfg.Name,
		}),
		peerlink.WithLogWithTime(cfg.LogWithTime),
		peerlink.WithKeepAlive(cfg.KeepAlive),
		peerlink.WithDialTimeout(cfg.DialTimeout),
		peerlink.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.LocalAddr != "" {
		opts = append(opts, peerlink.WithLocalAddr(cfg.LocalAddr))
	}
	if reg != nil {
		opts = append(opts, peerlink.WithMetricsRegisterer(reg))
	}
	return opts
}

// serveMetrics serves a new registry on the configured metrics address.
// Returns a nil registerer if metrics are disabled.
func serveMetrics() (prometheus.Registerer, func()) {
	if cfg.MetricsAddr == "" {
		return nil, func() {}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	return reg, func() {
		server.Close()
	}
}
