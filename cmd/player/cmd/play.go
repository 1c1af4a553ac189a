package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-engine/internal/host"
	"hls-engine/internal/platform/config"
	"hls-engine/internal/platform/logger"
	"hls-engine/internal/platform/metrics"
	"hls-engine/internal/platform/telemetry"
	"hls-engine/internal/player"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const serviceName = "hls-engine-player"

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a stream and write fragmented MP4",
	Long: `Play fetches the playlist at --url, follows it until the stream ends and
writes the fragmented MP4 to --out ("-" for stdout).`,
	Example: "  player play --url https://example.com/live/master.m3u8 --out stream.mp4",
	RunE:    runPlay,
}

func init() {
	flags := playCmd.Flags()
	flags.String("url", "", "playlist URL; defaults to $PLAYLIST_URL")
	flags.String("out", "", `output file, "-" for stdout; defaults to $OUTPUT_PATH or "-"`)
	flags.Bool("lenient-timeouts", false, "refresh on every elapsed timer, not only the latest one")
	flags.Duration("fetch-timeout", 0, "timeout of a single fetch; defaults to $FETCH_TIMEOUT or 10s")
	flags.Float64("fetch-rate", 0, "maximum fetches per second, 0 for unlimited; defaults to $FETCH_RATE")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address; defaults to $METRICS_ADDR")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, _ []string) error {
	out := stringFlag(cmd, "out", "OUTPUT_PATH", "-")
	logLevel := stringFlag(cmd, "log-level", "LOG_LEVEL", "info")
	logFormat := stringFlag(cmd, "log-format", "LOG_FORMAT", "text")

	log := logger.New(logLevel, logFormat)
	if out == "-" {
		// Stdout carries the media.
		log = logger.NewWithWriter(os.Stderr, logLevel, logFormat)
	}

	playlistURL := stringFlag(cmd, "url", "PLAYLIST_URL", "")
	if playlistURL == "" {
		return errors.New("--url or PLAYLIST_URL is required")
	}

	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", host.DefaultFetchTimeout)
	if f := cmd.Flags().Lookup("fetch-timeout"); f.Changed {
		fetchTimeout, _ = cmd.Flags().GetDuration("fetch-timeout")
	}
	fetchRate := config.GetEnvFloat("FETCH_RATE", 0)
	if f := cmd.Flags().Lookup("fetch-rate"); f.Changed {
		fetchRate, _ = cmd.Flags().GetFloat64("fetch-rate")
	}
	lenient := config.GetEnvBool("LENIENT_TIMEOUTS", false)
	if f := cmd.Flags().Lookup("lenient-timeouts"); f.Changed {
		lenient, _ = cmd.Flags().GetBool("lenient-timeouts")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SampleRate:  config.GetEnvFloat("OTEL_TRACE_SAMPLE_RATE", telemetry.DefaultSampleRate),
	})
	if err != nil {
		log.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	sink, closeSink, err := openSink(out)
	if err != nil {
		return err
	}
	defer closeSink()

	met := metrics.New()
	cfg := host.Config{
		URL:     playlistURL,
		Sink:    sink,
		Client:  host.NewClient(fetchTimeout),
		Metrics: met,
		Log:     log,
	}
	if fetchRate > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(fetchRate), 1)
	}
	if lenient {
		cfg.Options = append(cfg.Options, player.WithLenientTimeouts())
	}
	driver, err := host.New(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return driver.Run(gctx)
	})

	if addr := stringFlag(cmd, "metrics-addr", "METRICS_ADDR", ""); addr != "" {
		srv := &http.Server{Addr: addr, Handler: met.Handler(nil)}
		g.Go(func() error {
			log.Info("metrics server starting", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info("playback interrupted")
			return nil
		}
		log.Error("playback failed", slog.String("error", err.Error()))
		return err
	}
	log.Info("playback complete", slog.Int("refreshes", driver.Stats().Refreshes))
	return nil
}

func openSink(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
