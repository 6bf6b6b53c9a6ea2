// fetchd is the burncloud download service: it supervises an embedded
// aria2 engine and exposes download management over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/daemon"
	"github.com/burncloud/fetchd/internal/downloader"
	"github.com/burncloud/fetchd/internal/manager"
	"github.com/burncloud/fetchd/internal/metrics"
	"github.com/burncloud/fetchd/internal/platform"
	"github.com/burncloud/fetchd/internal/reconciler"
	"github.com/burncloud/fetchd/internal/repo"
	"github.com/burncloud/fetchd/internal/router"
	"github.com/burncloud/fetchd/internal/service"
)

// Version is set via ldflags during build.
var Version = "dev"

var (
	flagListen  string
	flagSecret  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:     "fetchd",
	Short:   "Managed aria2 download service",
	Long:    "fetchd supervises an embedded aria2 engine and exposes a download management API over HTTP.",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagListen, "listen", ":9090", "HTTP listen address")
	rootCmd.Flags().StringVar(&flagSecret, "rpc-secret", "", "aria2 RPC secret (overrides FETCHD_RPC_SECRET)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// newLogger writes JSON logs to stderr and a rotated file under the
// install directory.
func newLogger() *slog.Logger {
	logDir := filepath.Join(platform.InstallDir(), "logs")
	_ = platform.EnsureDir(logDir)
	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "fetchd.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stderr, rotated), &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func serve(ctx context.Context) error {
	logger := newLogger()
	slog.SetDefault(logger)
	metrics.Register()

	cfg := daemon.ConfigFromEnv()
	if flagSecret != "" {
		cfg.RPCSecret = flagSecret
	}

	endpoint := fmt.Sprintf("http://localhost:%d/jsonrpc", cfg.RPCPort)
	if v := os.Getenv("FETCHD_RPC_URL"); v != "" {
		endpoint = v
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := manager.New(ctx, endpoint, cfg.RPCSecret, logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error("engine shutdown", "err", err)
		}
	}()

	downloadRepo, cleanup, err := buildRepo(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	events := make(chan downloader.Event, 64)
	mgr.SetReporter(downloader.NewChanReporter(events))

	rec := reconciler.New(logger, downloadRepo, events)
	rec.Run()
	defer rec.Stop()

	notifyCtx, cancelNotify := context.WithCancel(ctx)
	defer cancelNotify()
	go mgr.Run(notifyCtx)

	downloadSvc := service.NewDownload(downloadRepo, mgr)
	handler := router.New(logger, downloadSvc, mgr)

	server := &http.Server{
		Addr:         flagListen,
		Handler:      handler,
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fetchd API listening", "addr", server.Addr, "engine_endpoint", mgr.Client().BaseURL().String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("received terminate, graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildRepo selects the record store: Postgres when FETCHD_REPO=postgres,
// in-memory otherwise.
func buildRepo(logger *slog.Logger) (repo.DownloadRepo, func(), error) {
	if os.Getenv("FETCHD_REPO") == "postgres" {
		pg, err := repo.NewPostgresRepoFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres repo: %w", err)
		}
		logger.Info("using postgres download repo")
		return pg, func() { _ = pg.Close() }, nil
	}
	logger.Info("using in-memory download repo")
	return repo.NewInMemoryDownloadRepo(), func() {}, nil
}

// engineCmd prints the supervised engine's version, exercising the full
// provisioning and startup path once.
var engineCmd = &cobra.Command{
	Use:   "engine-version",
	Short: "Start the engine, print its version, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		metrics.Register()
		cfg := daemon.ConfigFromEnv()

		cl, err := aria2.NewClient(fmt.Sprintf("http://localhost:%d/jsonrpc", cfg.RPCPort), cfg.RPCSecret)
		if err != nil {
			return err
		}
		dmn, err := daemon.Start(cmd.Context(), cfg, cl, logger)
		if err != nil {
			return err
		}
		defer func() { _ = dmn.Stop() }()

		version, err := cl.GetVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(engineCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fetchd:", err)
		os.Exit(1)
	}
}
