package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/oplog/internal/config"
	"github.com/rzbill/oplog/internal/metrics"
	"github.com/rzbill/oplog/internal/runtime"
	"github.com/rzbill/oplog/pkg/log"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath  string
	dataDir     string
	backendURL  string
	metricsAddr string
	logLevel    string
	logFormat   string
}

// NewRoot constructs the root Cobra command with the status, sync and
// inspect subcommands.
func NewRoot() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "oplog",
		Short:         "Inspect and replay operation logs",
		Long:          "oplog lists session logs left on disk and replays operations that never reached the backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (.json, .yaml or .yml)")
	pf.StringVar(&g.dataDir, "data-dir", "", "Session root directory (default: OS-specific application data directory)")
	pf.StringVar(&g.backendURL, "backend-url", "", "Backend base URL")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(
		newStatusCommand(g),
		newSyncCommand(g),
		newInspectCommand(g),
	)
	return root
}

// config layers the file, environment and flags over the defaults.
func (g *globals) config() (cfgpkg.Config, error) {
	cfg := cfgpkg.Default()
	if g.configPath != "" {
		loaded, err := cfgpkg.Load(g.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.backendURL != "" {
		cfg.Backend.URL = g.backendURL
	}
	if g.metricsAddr != "" {
		cfg.MetricsAddr = g.metricsAddr
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	return cfg, nil
}

// withRuntime opens a runtime for the duration of fn, serving metrics
// alongside when configured.
func (g *globals) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	logger, err := log.ApplyConfig(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer rt.Close(ctx)
	if err := rt.CheckHealth(ctx); err != nil {
		return fmt.Errorf("data dir unusable: %w", err)
	}

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, rt, logger)
		if err != nil {
			return err
		}
		defer stop()
	}
	return fn(ctx, rt)
}

func serveMetrics(addr string, rt *runtime.Runtime, logger log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           metrics.Handler(rt.Registry()),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.ToStdLogger(logger, log.WarnLevel),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", log.Err(err))
		}
	}()
	logger.Info("serving metrics", log.Str("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
