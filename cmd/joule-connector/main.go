package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
	"github.com/supergoudvis116/joule-connector/internal/logging"
	"github.com/supergoudvis116/joule-connector/internal/oauth"
	"github.com/supergoudvis116/joule-connector/internal/plugins"
	"github.com/supergoudvis116/joule-connector/internal/rate"
	"github.com/supergoudvis116/joule-connector/internal/router"
	"github.com/supergoudvis116/joule-connector/internal/server"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			args = args[1:]
		case "login":
			loginCmd(args[1:])
			return
		case "version":
			fmt.Println(version)
			return
		case "help", "-h", "--help":
			usage()
			return
		}
	}
	serveCmd(args)
}

func usage() {
	fmt.Println("joule-connector <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve [--config <path>]   run the connector (default)")
	fmt.Println("  login [--config <path>] [--username <email> --password-file <path>] [--json] [--persist-agenix]")
	fmt.Println("  version")
}

func serveCmd(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", config.Path(), "Path to config.pbtxt")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fatal("logging", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger); err != nil {
		logger.Error("connector stopped", zap.Error(err))
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	compiled := plugins.Compiled(cfg, plugins.Env{Logger: logger})
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return fmt.Errorf("validate plugins: %w", err)
	}
	for _, p := range active {
		logger.Info("plugin loaded",
			zap.String("plugin", p.ID()),
			zap.String("health", string(p.Health())),
			zap.String("message", p.HealthMessage()))
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger.Named("grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	shared := append(oauth.MetricsCollectors(), rate.MetricsCollectors()...)
	metricsRegistry, err := core.MetricsRegistry(active, shared...)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "joule_connector_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.Warn("write dashboards failed", zap.String("dir", cfg.Core.DashboardDir), zap.Error(err))
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", server.HealthHandler)
	httpMux.Handle("/ready", server.ReadyHandler(active))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	httpMux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			logger.Error("plugin start failed", zap.String("plugin", p.ID()), zap.Error(err))
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Core.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", grpcServer.Listener.Addr().String()))
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.Shutdown(shutdownCtx)
	return serveErr
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
