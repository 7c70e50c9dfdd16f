package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
	"github.com/lemonade-sdk/lemonade/pkg/envconfig"
	"github.com/lemonade-sdk/lemonade/pkg/frontend"
	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/inference/backends/llamacpp"
	"github.com/lemonade-sdk/lemonade/pkg/inference/backends/npu"
	"github.com/lemonade-sdk/lemonade/pkg/inference/platform"
	"github.com/lemonade-sdk/lemonade/pkg/lifecycle"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/registry"
	"github.com/lemonade-sdk/lemonade/pkg/router"
	"github.com/lemonade-sdk/lemonade/pkg/store"
	"github.com/lemonade-sdk/lemonade/pkg/telemetry"
	"github.com/lemonade-sdk/lemonade/pkg/utils"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inference gateway in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	host := flagHost
	if host == "" {
		host = envconfig.Host()
	}
	port := flagPort
	if port == "" {
		port = envconfig.Port()
	}

	levelVar := &slog.LevelVar{}
	if flagLogLevel != "" {
		levelVar.Set(logging.ParseLevel(flagLogLevel))
	} else {
		levelVar.Set(envconfig.LogLevel())
	}

	logFile := flagLogFile
	if logFile == "" {
		logFile = envconfig.LogFile()
	}

	log, closeLog, err := buildLogger(levelVar, logFile)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()

	cacheDir, err := envconfig.CacheDir()
	if err != nil {
		return fmt.Errorf("resolve cache directory: %w", err)
	}

	guard, err := lifecycle.Acquire(cacheDir)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			cmd.PrintErrln("lemonade is already running")
			osExit(1)
			return nil
		}
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	backends := map[string]inference.Backend{}
	supported := map[string]bool{}

	if platform.SupportsCPUGPU() {
		backends[llamacpp.Name] = llamacpp.New(log, envconfig.LlamaCppServerPath(), utils.SplitArgs(envconfig.LlamaCppArgs()))
		supported[llamacpp.Name] = true
	}
	if platform.SupportsNPU() {
		backends[npu.Name] = npu.New(log, filepath.Join(cacheDir, "npu-env"), envconfig.NPUServerPath())
		supported[npu.Name] = true
	}

	st, err := store.New(cacheDir)
	if err != nil {
		releaseAndExit(guard, log)
		return fmt.Errorf("set up artifact store: %w", err)
	}

	isDownloaded := func(descriptor inference.ModelDescriptor) bool {
		backend, ok := backends[descriptor.Recipe]
		if !ok {
			return false
		}
		if backend.UsesExternalModelManagement() {
			return true
		}
		repoID, _ := inference.SplitCheckpoint(descriptor.Checkpoint)
		return st.HasAnySnapshot(repoID, "main")
	}

	reg, err := registry.New(registry.ShippedCatalogJSON, cacheDir, supported, isDownloaded)
	if err != nil {
		releaseAndExit(guard, log)
		return fmt.Errorf("load model registry: %w", err)
	}

	fetcher := artifact.NewFetcher(envconfig.HFToken(), envconfig.Offline(), log)
	rt := router.New(log, reg, st, fetcher, backends, cacheDir)
	tel := telemetry.New()

	portNum, err := net.LookupPort("tcp", port)
	if err != nil {
		releaseAndExit(guard, log)
		return fmt.Errorf("invalid port %q: %w", port, err)
	}

	fe := frontend.New(log, levelVar, filepath.Join(cacheDir, "log_level"), reg, st, rt, tel, host, portNum)

	server := &http.Server{
		Addr:    net.JoinHostPort(host, port),
		Handler: fe.Handler(),
	}

	shutdownCtx, cancel := lifecycle.NotifyShutdown(context.Background())
	fe.SetShutdownFunc(cancel)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "host", host, "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-shutdownCtx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			releaseAndExit(guard, log)
			return fmt.Errorf("gateway server: %w", err)
		}
	}

	// One shared deadline for the whole sequence (listener close, drain,
	// model unload, lock release) — not one per step — so shutdown as a
	// whole still fits inside ShutdownDeadline.
	ctx, timeoutCancel := context.WithTimeout(context.Background(), lifecycle.ShutdownDeadline)
	defer timeoutCancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}

	lifecycle.Shutdown(ctx, log, rt, guard)
	return nil
}

// buildLogger resolves the gateway's logger: stderr by default, or a
// file handle when logFile is set, in which case the returned closer
// must be called to flush and release the file.
func buildLogger(levelVar *slog.LevelVar, logFile string) (logging.Logger, func() error, error) {
	if logFile == "" {
		return logging.NewLoggerWithLevelVar(levelVar), func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", logFile, err)
	}
	return logging.NewFileLogger(f, levelVar), f.Close, nil
}

func releaseAndExit(guard *lifecycle.Guard, log logging.Logger) {
	if err := guard.Release(); err != nil {
		log.Warn("release instance lock", "error", err)
	}
}
