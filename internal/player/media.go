package player

import (
	"errors"
	"net/url"
	"time"
	"unicode/utf8"

	"hls-engine/internal/playlist"
	"hls-engine/internal/remux"
)

// defaultPollInterval is used when a playlist yields no positive polling interval.
const defaultPollInterval = time.Second

// SegmentState is the fetch state of a PendingSegment.
type SegmentState int

const (
	SegmentQueued SegmentState = iota
	SegmentInFlight
)

func (s SegmentState) String() string {
	if s == SegmentInFlight {
		return "in_flight"
	}
	return "queued"
}

// PendingSegment is a segment listed by the playlist and not yet delivered.
type PendingSegment struct {
	Sequence uint64
	State    SegmentState
	URL      string

	fetchID ActionID
}

// MediaPlaylistHandler drives one media playlist: it polls the playlist,
// queues new segments, keeps exactly one segment fetch in flight and buffers
// converted output.
//
// A MediaPlaylistHandler is not safe for concurrent use.
type MediaPlaylistHandler struct {
	cfg     *config
	baseURL *url.URL
	factory *ActionFactory

	actions  []Action
	segments []PendingSegment
	outputs  [][]byte

	// lastSequence is only meaningful once sequenced is set.
	lastSequence uint64
	sequenced    bool
	initialized  bool
	endlist      bool
	refreshes    int

	playlistFetch   ActionID
	playlistPending bool

	armedTimeout ActionID
	timeoutArmed bool

	// abandonedFetch is the fetch of an in-flight segment that was evicted
	// from the window. Its completion is discarded.
	abandonedFetch ActionID
	abandoned      bool
}

// NewMediaPlaylistHandler returns a handler for the media playlist at u whose
// actions are allocated by factory. The bootstrap fetch of u is queued.
func NewMediaPlaylistHandler(u *url.URL, factory *ActionFactory, opts ...Option) *MediaPlaylistHandler {
	h := newMediaPlaylistHandler(u, factory, newConfig(opts))
	h.requestPlaylist()
	return h
}

func newMediaPlaylistHandler(u *url.URL, factory *ActionFactory, cfg *config) *MediaPlaylistHandler {
	return &MediaPlaylistHandler{
		cfg:     cfg,
		baseURL: u,
		factory: factory,
	}
}

// NextAction pops the oldest pending action.
func (h *MediaPlaylistHandler) NextAction() (Action, bool) {
	if len(h.actions) == 0 {
		return Action{}, false
	}
	a := h.actions[0]
	h.actions[0] = Action{}
	h.actions = h.actions[1:]
	return a, true
}

// NextOutput pops the oldest buffered output chunk, or returns nil.
func (h *MediaPlaylistHandler) NextOutput() []byte {
	if len(h.outputs) == 0 {
		return nil
	}
	out := h.outputs[0]
	h.outputs[0] = nil
	h.outputs = h.outputs[1:]
	return out
}

// HandleTimeout reports that the timeout id elapsed and queues a playlist
// refresh. Unless lenient timeouts are enabled, only the most recently armed
// timeout is honored and any other id is ignored.
func (h *MediaPlaylistHandler) HandleTimeout(id ActionID) error {
	if !h.cfg.lenientTimeouts {
		if !h.timeoutArmed || id != h.armedTimeout {
			h.cfg.log.Debug("ignoring stale timeout",
				"action_id", id.String(),
				"armed", h.timeoutArmed,
			)
			return nil
		}
		h.timeoutArmed = false
	}
	h.requestPlaylist()
	return nil
}

// HandleData reports the bytes fetched for action id. The outstanding playlist
// fetch carries playlist text; any other id must be the in-flight segment.
func (h *MediaPlaylistHandler) HandleData(id ActionID, data []byte) error {
	if h.playlistPending && id == h.playlistFetch {
		return Track(h.refresh(data))
	}
	return Track(h.completeSegment(id, data))
}

// Segments returns a snapshot of the segment queue.
func (h *MediaPlaylistHandler) Segments() []PendingSegment {
	out := make([]PendingSegment, len(h.segments))
	copy(out, h.segments)
	return out
}

// Stats returns a snapshot of the handler's state.
func (h *MediaPlaylistHandler) Stats() Stats {
	st := Stats{
		State:           "media",
		Stream:          h.factory.Stream(),
		Initialized:     h.initialized,
		PendingActions:  len(h.actions),
		BufferedOutputs: len(h.outputs),
		Endlist:         h.endlist,
		Refreshes:       h.refreshes,
	}
	if h.sequenced {
		seq := h.lastSequence
		st.Watermark = &seq
	}
	for _, s := range h.segments {
		if s.State == SegmentInFlight {
			st.InFlightSegments++
		} else {
			st.QueuedSegments++
		}
	}
	return st
}

func (h *MediaPlaylistHandler) sealed() {}

func (h *MediaPlaylistHandler) requestPlaylist() {
	a := h.factory.Fetch(h.baseURL.String())
	h.actions = append(h.actions, a)
	h.playlistFetch = a.ID
	h.playlistPending = true
}

func (h *MediaPlaylistHandler) refresh(data []byte) error {
	if !utf8.Valid(data) {
		return newError(InvalidInput, ErrNotUTF8)
	}
	pl, err := h.cfg.parser.Parse(data)
	if err != nil {
		return takeOver(InvalidInput, err)
	}
	if err := h.apply(pl); err != nil {
		return Track(err)
	}
	h.playlistPending = false
	return nil
}

type newSegment struct {
	PendingSegment
	duration time.Duration
}

// apply merges a parsed media playlist into the handler. Every check runs
// before the first mutation.
func (h *MediaPlaylistHandler) apply(pl *playlist.Playlist) error {
	if pl.Kind != playlist.KindMedia {
		return errorf(InvalidInput, ErrPlaylistType, "expected media playlist, got %s", pl.Kind)
	}

	var fresh []newSegment
	for i, seg := range pl.Segments {
		seq := pl.MediaSequence + uint64(i)
		if h.sequenced && seq <= h.lastSequence {
			continue
		}
		u, err := h.cfg.resolve(h.baseURL, seg.URI)
		if err != nil {
			return errorf(InvalidInput, err, "resolve segment %d", seq)
		}
		fresh = append(fresh, newSegment{
			PendingSegment: PendingSegment{Sequence: seq, State: SegmentQueued, URL: u.String()},
			duration:       seg.Duration,
		})
	}

	evicted := 0
	kept := make([]PendingSegment, 0, len(h.segments)+len(fresh))
	for _, s := range h.segments {
		if s.Sequence >= pl.MediaSequence {
			kept = append(kept, s)
			continue
		}
		if s.State == SegmentInFlight {
			h.abandonedFetch = s.fetchID
			h.abandoned = true
		}
		evicted++
	}
	h.segments = kept

	interval := pl.TargetDuration
	for _, seg := range fresh {
		s := seg.PendingSegment
		if len(h.segments) == 0 && !h.abandoned {
			s = h.startFetch(s)
		}
		h.segments = append(h.segments, s)
		h.lastSequence = s.Sequence
		h.sequenced = true
		if seg.duration > 0 && seg.duration < interval {
			interval = seg.duration
		}
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	h.endlist = pl.Endlist
	h.refreshes++

	t := h.factory.SetTimeout(interval)
	h.actions = append(h.actions, t)
	h.armedTimeout = t.ID
	h.timeoutArmed = true

	h.cfg.log.Debug("media playlist refreshed",
		"stream", h.factory.Stream(),
		"media_sequence", pl.MediaSequence,
		"new_segments", len(fresh),
		"evicted", evicted,
		"interval", interval,
		"endlist", pl.Endlist,
	)
	return nil
}

func (h *MediaPlaylistHandler) startFetch(s PendingSegment) PendingSegment {
	a := h.factory.Fetch(s.URL)
	h.actions = append(h.actions, a)
	s.State = SegmentInFlight
	s.fetchID = a.ID
	return s
}

// resume starts fetching the queue front if nothing is in flight.
func (h *MediaPlaylistHandler) resume() {
	if len(h.segments) == 0 || h.abandoned || h.segments[0].State == SegmentInFlight {
		return
	}
	h.segments[0] = h.startFetch(h.segments[0])
}

func (h *MediaPlaylistHandler) completeSegment(id ActionID, data []byte) error {
	if h.abandoned && id == h.abandonedFetch {
		h.abandoned = false
		h.cfg.log.Debug("discarding evicted segment", "action_id", id.String())
		h.resume()
		return nil
	}
	if len(h.segments) == 0 || h.segments[0].State != SegmentInFlight || h.segments[0].fetchID != id {
		return errorf(InvalidInput, ErrUnknownAction, "action %s", id)
	}

	init, media, err := h.cfg.converter.Convert(data)
	if err != nil {
		return takeOver(converterKind(err), err)
	}

	h.segments[0] = PendingSegment{}
	h.segments = h.segments[1:]
	h.resume()
	if !h.initialized {
		h.outputs = append(h.outputs, init)
		h.initialized = true
	}
	h.outputs = append(h.outputs, media)
	return nil
}

func converterKind(err error) Kind {
	if errors.Is(err, remux.ErrInvalidInput) {
		return InvalidInput
	}
	return Other
}
