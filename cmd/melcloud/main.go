package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joshp123/melcloud/internal/auth"
	"github.com/joshp123/melcloud/internal/config"
	"github.com/joshp123/melcloud/internal/core"
	"github.com/joshp123/melcloud/internal/influxdb"
	"github.com/joshp123/melcloud/internal/logging"
	"github.com/joshp123/melcloud/internal/mqtt"
	"github.com/joshp123/melcloud/internal/plugins"
	"github.com/joshp123/melcloud/internal/rate"
	"github.com/joshp123/melcloud/internal/router"
	"github.com/joshp123/melcloud/internal/server"
	"github.com/joshp123/melcloud/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Default().Error("melcloud exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg, logger.With("component", "store"))
	if err != nil {
		return err
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	env := plugins.Env{Config: cfg, Store: st, Logger: logger}
	if cfg.MQTT != nil {
		broker, err := mqtt.Connect(cfg.MQTT, logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
		defer broker.Close()
		env.MQTT = broker
	}
	if cfg.InfluxDB != nil {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return err
		}
		defer influx.Close()
		influxLogger := logger.With("component", "influxdb")
		influx.SetOnError(func(err error) {
			influxLogger.Warn("influxdb write failed", "error", err)
		})
		env.InfluxDB = influx
	}

	compiled := plugins.Compiled(ctx, env)
	for _, p := range compiled {
		if p.Health() == core.HealthError {
			logger.Error("plugin unavailable", "plugin", p.ID(), "error", p.HealthMessage())
		}
	}
	if err := core.ValidatePlugins(compiled); err != nil {
		return err
	}

	grpcServer, err := server.NewGRPCServer(cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	router.RegisterPlugins(grpcServer.Server, compiled)

	shared := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "melcloud_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": version},
		}, func() float64 { return 1 }),
	}
	shared = append(shared, rate.MetricsCollectors()...)
	shared = append(shared, auth.MetricsCollectors()...)
	shared = append(shared, store.MetricsCollectors()...)
	metricsRegistry, err := core.MetricsRegistry(compiled, shared...)
	if err != nil {
		return err
	}

	registry := core.NewRegistry(compiled)
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", server.HealthHandler(registry))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	httpMux.Handle("/plugins", server.PluginsHandler(registry))
	httpMux.Handle("/plugins/", server.PluginsHandler(registry))
	for _, p := range compiled {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, httpMux)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		errCh <- grpcServer.Serve()
	}()

	for _, p := range compiled {
		if runner, ok := p.(core.Runner); ok {
			go runner.Run(ctx)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", "error", shutdownErr)
	}
	grpcServer.Stop(shutdownCtx)
	return err
}
