// Package host runs a player session against real HTTP origins. It performs
// the actions the engine requests and writes the produced fragmented MP4 to a
// sink.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hls-engine/internal/platform/metrics"
	"hls-engine/internal/player"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultFetchTimeout bounds a single fetch when Config.Client is nil.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultMaxConcurrentFetches caps in-flight fetches when
	// Config.MaxConcurrentFetches is not positive.
	DefaultMaxConcurrentFetches = 4
	// DefaultFetchAttempts is used when Config.FetchAttempts is not positive.
	DefaultFetchAttempts = 3

	retryBackoff = 250 * time.Millisecond
)

var errUnexpectedStatus = errors.New("unexpected status")

// Config configures a Driver.
type Config struct {
	// URL is the initial playlist URL.
	URL string
	// Sink receives every output chunk in order.
	Sink io.Writer

	// Client performs fetches. If nil, a client with DefaultFetchTimeout and
	// an OpenTelemetry transport is used.
	Client *http.Client
	// Limiter throttles fetches. Nil means unlimited.
	Limiter              *rate.Limiter
	MaxConcurrentFetches int64
	// FetchAttempts is the number of tries per fetch before Run fails.
	FetchAttempts int

	Metrics *metrics.Metrics
	Log     *slog.Logger
	Options []player.Option
}

// NewClient returns an HTTP client whose requests are traced.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Driver executes the actions of one session. Fetches and timers run
// concurrently; their completions are delivered to the session from the Run
// goroutine only.
type Driver struct {
	cfg     Config
	session *player.Session
	sem     *semaphore.Weighted
	log     *slog.Logger
}

type completion struct {
	action  player.Action
	data    []byte
	elapsed time.Duration
	err     error
}

// New returns a Driver for cfg.URL.
func New(cfg Config) (*Driver, error) {
	if cfg.Sink == nil {
		return nil, errors.New("host: nil sink")
	}
	if cfg.Client == nil {
		cfg.Client = NewClient(DefaultFetchTimeout)
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = DefaultFetchAttempts
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	opts := append([]player.Option{player.WithLogger(log)}, cfg.Options...)
	session, err := player.NewSession(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg:     cfg,
		session: session,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		log:     log.With(slog.String("url", session.URL())),
	}, nil
}

// Stats returns a snapshot of the driven session. It must not be called
// concurrently with Run.
func (d *Driver) Stats() player.Stats {
	return d.session.Stats()
}

// Run fetches the initial playlist, starts the session and performs its
// actions until the stream ended and every segment was written, or ctx is
// done. A fetch that fails FetchAttempts times, an engine error and a sink
// error all stop Run.
func (d *Driver) Run(ctx context.Context) error {
	text, elapsed, err := d.fetch(ctx, d.session.URL())
	if err != nil {
		return fmt.Errorf("fetch initial playlist: %w", err)
	}
	d.observeFetch(elapsed)
	if err := d.session.Play(text); err != nil {
		d.engineError(err)
		return fmt.Errorf("play: %w", err)
	}
	d.log.Info("playback started", slog.String("state", d.session.Stats().State))

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan completion)
	for {
		d.dispatch(ctx, &wg, results)
		if err := d.flush(); err != nil {
			return err
		}
		if d.finished() {
			d.log.Info("playback finished", slog.Int("refreshes", d.session.Stats().Refreshes))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-results:
			if err := d.complete(c); err != nil {
				return err
			}
		}
	}
}

// dispatch starts every pending action.
func (d *Driver) dispatch(ctx context.Context, wg *sync.WaitGroup, results chan<- completion) {
	for {
		action, ok := d.session.NextAction()
		if !ok {
			return
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.IncActions(string(action.Type))
		}
		d.log.Debug("dispatching action",
			slog.String("type", string(action.Type)),
			slog.String("action_id", action.ID.String()))

		wg.Add(1)
		go func() {
			defer wg.Done()
			c := d.perform(ctx, action)
			select {
			case results <- c:
			case <-ctx.Done():
			}
		}()
	}
}

func (d *Driver) perform(ctx context.Context, action player.Action) completion {
	switch action.Type {
	case player.SetTimeout:
		timer := time.NewTimer(action.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return completion{action: action}
		case <-ctx.Done():
			return completion{action: action, err: ctx.Err()}
		}
	default:
		data, elapsed, err := d.fetch(ctx, action.URL)
		return completion{action: action, data: data, elapsed: elapsed, err: err}
	}
}

func (d *Driver) complete(c completion) error {
	if c.err != nil {
		return fmt.Errorf("action %s: %w", c.action.ID, c.err)
	}

	var err error
	switch c.action.Type {
	case player.SetTimeout:
		err = d.session.HandleTimeout(c.action.ID)
	default:
		d.observeFetch(c.elapsed)
		err = d.session.HandleData(c.action.ID, c.data)
	}
	if err != nil {
		d.engineError(err)
		return fmt.Errorf("action %s: %w", c.action.ID, err)
	}
	return nil
}

// flush writes every buffered output chunk to the sink.
func (d *Driver) flush() error {
	for {
		chunk := d.session.NextOutput()
		if chunk == nil {
			return nil
		}
		if _, err := d.cfg.Sink.Write(chunk); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.AddOutput(len(chunk))
		}
	}
}

func (d *Driver) finished() bool {
	st := d.session.Stats()
	return st.Endlist && st.QueuedSegments == 0 && st.InFlightSegments == 0 && st.BufferedOutputs == 0
}

// fetch GETs url, retrying transport errors and non-2xx answers.
func (d *Driver) fetch(ctx context.Context, url string) ([]byte, time.Duration, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer d.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.FetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * retryBackoff):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
		if d.cfg.Limiter != nil {
			if err := d.cfg.Limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		start := time.Now()
		data, err := d.get(ctx, url)
		if err == nil {
			return data, time.Since(start), nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		lastErr = err
		d.log.Warn("fetch failed",
			slog.String("fetch_url", url),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return nil, 0, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (d *Driver) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w %d", errUnexpectedStatus, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *Driver) observeFetch(elapsed time.Duration) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.ObserveFetch(elapsed)
	}
}

func (d *Driver) engineError(err error) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.IncEngineErrors(player.KindOf(err).String())
	}
	d.log.Error("engine error", slog.String("error", err.Error()))
}
