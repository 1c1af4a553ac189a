package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-engine/internal/gateway"
	"hls-engine/internal/platform/config"
	"hls-engine/internal/platform/logger"
	"hls-engine/internal/platform/metrics"
	"hls-engine/internal/platform/telemetry"
	"hls-engine/internal/player"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName     = "hls-engine-gateway"
	shutdownTimeout = 10 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	maxSessions := config.GetEnvInt("MAX_SESSIONS", 100)
	lenientTimeouts := config.GetEnvBool("LENIENT_TIMEOUTS", false)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)
	slog.SetDefault(log)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SampleRate:  config.GetEnvFloat("OTEL_TRACE_SAMPLE_RATE", telemetry.DefaultSampleRate),
	})
	if err != nil {
		log.Warn("otel init failed", "error", err)
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	opts := []player.Option{player.WithLogger(log)}
	if lenientTimeouts {
		opts = append(opts, player.WithLenientTimeouts())
	}

	repo := gateway.NewInMemoryRepository(maxSessions)
	met := metrics.New()
	svc := gateway.NewService(repo, met, opts...)
	h := gateway.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessions()) }).ServeHTTP(w, r)
	})
	h.Mount(r)

	traced := otelhttp.NewHandler(r, serviceName,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics"
		}),
	)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: traced}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"max_sessions", maxSessions,
		"lenient_timeouts", lenientTimeouts,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
