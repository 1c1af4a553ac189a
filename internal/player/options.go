package player

import (
	"log/slog"

	"hls-engine/internal/playlist"
	"hls-engine/internal/remux"
)

type config struct {
	parser          Parser
	converter       Converter
	resolve         Resolver
	log             *slog.Logger
	lenientTimeouts bool
}

// Option configures a Session or a playlist handler.
type Option func(*config)

// WithParser replaces the gohlslib based playlist parser.
func WithParser(p Parser) Option {
	return func(c *config) { c.parser = p }
}

// WithConverter replaces the mediacommon based segment converter.
func WithConverter(conv Converter) Option {
	return func(c *config) { c.converter = conv }
}

// WithResolver replaces ResolveURL.
func WithResolver(r Resolver) Option {
	return func(c *config) { c.resolve = r }
}

// WithLogger sets the logger used for debug events. Nothing is logged by default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithLenientTimeouts makes every timeout completion trigger a playlist
// refresh, whatever its id. By default only the most recently armed timeout
// does.
func WithLenientTimeouts() Option {
	return func(c *config) { c.lenientTimeouts = true }
}

func newConfig(opts []Option) *config {
	c := &config{
		parser:    playlist.NewParser(),
		converter: remux.NewConverter(),
		resolve:   ResolveURL,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
