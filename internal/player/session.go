// Package player is a sans-I/O HLS client session engine.
//
// A Session never performs network I/O or waits. It queues Actions that its
// host executes (fetch a URL, arm a timer) and is told about their completion
// through HandleData and HandleTimeout. Converted fragmented MP4 chunks are
// drained with NextOutput.
//
//	s, _ := player.NewSession(u)
//	_ = s.Play(text)
//	for a, ok := s.NextAction(); ok; a, ok = s.NextAction() {
//		// perform a, then call s.HandleData or s.HandleTimeout
//	}
package player

import (
	"errors"
	"net/url"
	"unicode/utf8"

	"hls-engine/internal/playlist"
)

// Stats is a snapshot of a session.
type Stats struct {
	State            string   `json:"state"`
	Stream           StreamID `json:"stream"`
	Watermark        *uint64  `json:"watermark,omitempty"`
	Initialized      bool     `json:"initialized"`
	QueuedSegments   int      `json:"queued_segments"`
	InFlightSegments int      `json:"in_flight_segments"`
	PendingActions   int      `json:"pending_actions"`
	BufferedOutputs  int      `json:"buffered_outputs"`
	Endlist          bool     `json:"endlist"`
	Refreshes        int      `json:"refreshes"`
}

// handler is the session state. It is sealed: notStarted,
// *MasterPlaylistHandler and *MediaPlaylistHandler are its only variants.
type handler interface {
	NextAction() (Action, bool)
	NextOutput() []byte
	HandleData(id ActionID, data []byte) error
	HandleTimeout(id ActionID) error
	Stats() Stats
	sealed()
}

type notStarted struct{}

func (notStarted) NextAction() (Action, bool) { return Action{}, false }
func (notStarted) NextOutput() []byte { return nil }
func (notStarted) HandleData(ActionID, []byte) error { return nil }
func (notStarted) HandleTimeout(ActionID) error { return nil }
func (notStarted) Stats() Stats { return Stats{State: "not_started"} }
func (notStarted) sealed() {}

var errInvalidURL = errors.New("initial URL must be absolute")

// Session is the engine object a host drives. It is not safe for concurrent
// use.
type Session struct {
	url   *url.URL
	cfg   *config
	state handler

	nextStream StreamID
}

// NewSession returns a session for the playlist at rawURL, which must be an
// absolute URL.
func NewSession(rawURL string, opts ...Option) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errorf(InvalidInput, err, "parse initial URL")
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, errorf(InvalidInput, errInvalidURL, "%q", rawURL)
	}
	return &Session{
		url:   u,
		cfg:   newConfig(opts),
		state: notStarted{},
	}, nil
}

// URL returns the initial playlist URL.
func (s *Session) URL() string {
	return s.url.String()
}

// Play starts the session with the already fetched text of the initial URL.
// A master playlist starts the first variant; a media playlist is applied
// directly. Play fails with InvalidInput if the session already started.
func (s *Session) Play(text []byte) error {
	if _, ok := s.state.(notStarted); !ok {
		return newError(InvalidInput, ErrAlreadyStarted)
	}
	if !utf8.Valid(text) {
		return newError(InvalidInput, ErrNotUTF8)
	}
	pl, err := s.cfg.parser.Parse(text)
	if err != nil {
		return takeOver(InvalidInput, err)
	}

	stream := s.nextStream
	switch pl.Kind {
	case playlist.KindMaster:
		h, err := newMasterPlaylistHandler(s.url, pl, stream, s.cfg)
		if err != nil {
			return Track(err)
		}
		s.state = h
	default:
		h := newMediaPlaylistHandler(s.url, NewActionFactory(stream), s.cfg)
		if err := h.apply(pl); err != nil {
			return Track(err)
		}
		s.state = h
	}
	s.nextStream++

	s.cfg.log.Debug("session started", "url", s.url.String(), "kind", pl.Kind.String())
	return nil
}

// Started reports whether Play succeeded.
func (s *Session) Started() bool {
	_, ok := s.state.(notStarted)
	return !ok
}

// NextAction pops the next action the host must perform.
func (s *Session) NextAction() (Action, bool) {
	return s.state.NextAction()
}

// NextOutput pops the next fragmented MP4 chunk, or returns nil.
func (s *Session) NextOutput() []byte {
	return s.state.NextOutput()
}

// HandleData reports the bytes fetched for a FetchData action.
func (s *Session) HandleData(id ActionID, data []byte) error {
	return Track(s.state.HandleData(id, data))
}

// HandleTimeout reports that a SetTimeout action elapsed.
func (s *Session) HandleTimeout(id ActionID) error {
	return Track(s.state.HandleTimeout(id))
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	return s.state.Stats()
}
