package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/telemetry"
	"github.com/hyperbridge/dmabridge/pkg/auth"
	"github.com/hyperbridge/dmabridge/pkg/auth/kerberos"
	"github.com/hyperbridge/dmabridge/pkg/config"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/api"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
	"github.com/hyperbridge/dmabridge/pkg/directory"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/metrics"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/service"
	"github.com/hyperbridge/dmabridge/pkg/session"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/transport"
	"github.com/hyperbridge/dmabridge/pkg/transport/grpctransport"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hyperdmabufd daemon",
	Long: `Start hyperdmabufd with the specified configuration.

By default, the daemon runs in the background. Use --foreground to run in
the foreground for debugging or when managed by a process supervisor.

Examples:
  # Start in background (default)
  hyperdmabufd start

  # Start in foreground
  hyperdmabufd start --foreground

  # Start with custom config file
  hyperdmabufd start --config /etc/hyperdmabufd/config.yaml

  # Start with environment variable overrides
  HYPERDMABUF_LOGGING_LEVEL=DEBUG hyperdmabufd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/hyperdmabufd/hyperdmabufd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/hyperdmabufd/hyperdmabufd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "hyperdmabufd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "hyperdmabufd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("hyperdmabufd - cross-VM DMA-buffer sharing daemon")
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	var metricsRegistry = metrics.InitRegistry()
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics collection disabled")
	}

	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize control plane store: %w", err)
	}
	defer func() {
		if err := cpStore.Close(); err != nil {
			logger.Error("control plane store close error", "error", err)
		}
	}()

	handles := handle.NewAllocator(cfg.VM.SelfVM)

	engine, err := shareengine.NewMmapEngine(cfg.VM.SelfVM, cfg.VM.ArenaPath)
	if err != nil {
		return fmt.Errorf("failed to initialize share engine: %w", err)
	}

	exported := registry.NewExportedRegistry()
	imported := registry.NewImportedRegistry()
	provider := localbuffer.NewMemProvider()

	dir, err := directory.New(cfg.Directory)
	if err != nil {
		return fmt.Errorf("failed to initialize directory backend: %w", err)
	}

	sessions := session.NewRegistry()
	minter, err := session.NewMinter(session.Config{
		Secret:   cfg.ControlPlane.JWT.Secret,
		TokenTTL: cfg.ControlPlane.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session minter: %w", err)
	}

	svc := service.New(service.Deps{
		SelfVM:            cfg.VM.SelfVM,
		Handles:           handles,
		Engine:            engine,
		Exported:          exported,
		Imported:          imported,
		Provider:          provider,
		Directory:         dir,
		Sessions:          sessions,
		Metrics:           metrics.NewControlMetrics(),
		RemoteSyncMetrics: metrics.NewRemoteSyncMetrics(),
	})

	switch cfg.Transport.Backend {
	case "grpc":
		resolveAddr := func(peerVM uint32) (string, bool) {
			peer, err := cpStore.GetPeer(context.Background(), peerVM)
			if err != nil {
				return "", false
			}
			return peer.TransportAddr, true
		}
		tp := grpctransport.New(cfg.VM.SelfVM, svc, cfg.Transport.GRPCAddr, resolveAddr,
			cfg.Transport.SyncSendTimeout, cfg.Transport.WorkerPoolSize, metrics.NewTransportMetrics())
		svc.AttachTransport(tp)
		go func() {
			if err := tp.Serve(ctx); err != nil {
				logger.Error("grpc ring transport error", "error", err)
			}
		}()
		logger.Info("ring transport attached", "backend", "grpc", "addr", cfg.Transport.GRPCAddr)
	default:
		tp := transport.New(cfg.VM.SelfVM, svc, cfg.Transport.SyncSendTimeout, cfg.Transport.WorkerPoolSize, metrics.NewTransportMetrics())
		svc.AttachTransport(tp)
		logger.Info("ring transport attached", "backend", "shm")
	}

	var authenticator *auth.Authenticator
	if cfg.Kerberos.Enabled {
		kerberosProvider, err := kerberos.NewProvider(&cfg.Kerberos)
		if err != nil {
			return fmt.Errorf("failed to initialize kerberos provider: %w", err)
		}
		defer func() {
			if err := kerberosProvider.Close(); err != nil {
				logger.Error("kerberos provider close error", "error", err)
			}
		}()
		authenticator = auth.NewAuthenticator(kerberosProvider)
		logger.Info("kerberos authentication enabled", "service_principal", cfg.Kerberos.ServicePrincipal)
	}

	apiServer, err := api.NewServer(cfg.ControlPlane, svc, cpStore, minter, authenticator)
	if err != nil {
		return fmt.Errorf("failed to create control plane API server: %w", err)
	}
	logger.Info("control plane API server configured", "port", cfg.ControlPlane.Port)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("daemon is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown", "timeout", cfg.ShutdownTimeout)
		cancel()

		select {
		case err := <-serverDone:
			if err != nil && err != http.ErrServerClosed {
				logger.Error("control plane server error", "error", err)
			}
			logger.Info("daemon stopped gracefully")
		case <-time.After(cfg.ShutdownTimeout):
			logger.Error("graceful shutdown timed out, exiting")
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil && err != http.ErrServerClosed {
			logger.Error("control plane server error", "error", err)
			return err
		}
		logger.Info("daemon stopped")
	}

	return nil
}
