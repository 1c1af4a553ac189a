package player

import (
	"net/url"
	"unicode/utf8"

	"hls-engine/internal/playlist"
)

// MasterPlaylistHandler bootstraps playback of a master playlist. It selects
// the first variant stream and forwards every operation to the media playlist
// handler of that variant.
type MasterPlaylistHandler struct {
	variant playlist.Variant
	media   *MediaPlaylistHandler
}

// NewMasterPlaylistHandler parses the master playlist text fetched from u and
// returns a handler whose media handler allocates actions on stream.
func NewMasterPlaylistHandler(u *url.URL, text []byte, stream StreamID, opts ...Option) (*MasterPlaylistHandler, error) {
	cfg := newConfig(opts)
	if !utf8.Valid(text) {
		return nil, newError(InvalidInput, ErrNotUTF8)
	}
	pl, err := cfg.parser.Parse(text)
	if err != nil {
		return nil, takeOver(InvalidInput, err)
	}
	h, err := newMasterPlaylistHandler(u, pl, stream, cfg)
	if err != nil {
		return nil, Track(err)
	}
	return h, nil
}

func newMasterPlaylistHandler(u *url.URL, pl *playlist.Playlist, stream StreamID, cfg *config) (*MasterPlaylistHandler, error) {
	if pl.Kind != playlist.KindMaster {
		return nil, errorf(InvalidInput, ErrPlaylistType, "expected master playlist, got %s", pl.Kind)
	}
	if len(pl.Variants) == 0 {
		return nil, newError(InvalidInput, ErrNoVariants)
	}

	variant := pl.Variants[0]
	mediaURL, err := cfg.resolve(u, variant.URI)
	if err != nil {
		return nil, errorf(InvalidInput, err, "resolve variant %q", variant.URI)
	}

	cfg.log.Debug("selected variant stream",
		"uri", mediaURL.String(),
		"bandwidth", variant.Bandwidth,
		"variants", len(pl.Variants),
		"stream", stream,
	)

	media := newMediaPlaylistHandler(mediaURL, NewActionFactory(stream), cfg)
	media.requestPlaylist()
	return &MasterPlaylistHandler{variant: variant, media: media}, nil
}

// Variant returns the selected variant stream.
func (h *MasterPlaylistHandler) Variant() playlist.Variant {
	return h.variant
}

// Media returns the handler of the selected variant.
func (h *MasterPlaylistHandler) Media() *MediaPlaylistHandler {
	return h.media
}

func (h *MasterPlaylistHandler) NextAction() (Action, bool) {
	return h.media.NextAction()
}

func (h *MasterPlaylistHandler) NextOutput() []byte {
	return h.media.NextOutput()
}

func (h *MasterPlaylistHandler) HandleData(id ActionID, data []byte) error {
	return Track(h.media.HandleData(id, data))
}

func (h *MasterPlaylistHandler) HandleTimeout(id ActionID) error {
	return Track(h.media.HandleTimeout(id))
}

func (h *MasterPlaylistHandler) Stats() Stats {
	st := h.media.Stats()
	st.State = "master"
	return st
}

func (h *MasterPlaylistHandler) sealed() {}
