// Package playlist decodes HLS playlists into the shape the session engine
// consumes, and renders live media playlists for fixtures and test origins.
package playlist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	hlsplaylist "github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// ErrInvalid is wrapped by every decoding failure.
var ErrInvalid = errors.New("invalid playlist")

// Kind tells master and media playlists apart.
type Kind int

const (
	KindMedia Kind = iota
	KindMaster
)

func (k Kind) String() string {
	if k == KindMaster {
		return "master"
	}
	return "media"
}

// Variant is one EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URI       string
	Bandwidth int
	Codecs    []string
}

// Segment is one EXTINF entry of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Playlist is a decoded master or media playlist. Variants is only set for
// master playlists; the remaining fields only for media playlists.
type Playlist struct {
	Kind           Kind
	Variants       []Variant
	Segments       []Segment
	TargetDuration time.Duration
	MediaSequence  uint64
	Endlist        bool
}

// Parser decodes playlist text with gohlslib.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

var (
	streamInfTag = []byte("#EXT-X-STREAM-INF:")
	extinfTag    = []byte("#EXTINF:")
)

// Parse decodes text. A playlist is treated as a master playlist if and only
// if it carries an EXT-X-STREAM-INF tag; anything else is decoded as a media
// playlist, including live playlists that list no segment yet.
func (p *Parser) Parse(text []byte) (*Playlist, error) {
	if bytes.Contains(text, streamInfTag) {
		var mv hlsplaylist.Multivariant
		if err := mv.Unmarshal(text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return fromMultivariant(&mv), nil
	}

	if !bytes.Contains(text, extinfTag) {
		return parseEmptyMedia(text)
	}

	var media hlsplaylist.Media
	if err := media.Unmarshal(text); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fromMedia(&media)
}

func fromMultivariant(mv *hlsplaylist.Multivariant) *Playlist {
	pl := &Playlist{Kind: KindMaster}
	for _, v := range mv.Variants {
		if v == nil {
			continue
		}
		pl.Variants = append(pl.Variants, Variant{
			URI:       v.URI,
			Bandwidth: v.Bandwidth,
			Codecs:    v.Codecs,
		})
	}
	return pl
}

func fromMedia(media *hlsplaylist.Media) (*Playlist, error) {
	if media.MediaSequence < 0 {
		return nil, fmt.Errorf("%w: negative media sequence %d", ErrInvalid, media.MediaSequence)
	}

	pl := &Playlist{
		Kind:           KindMedia,
		TargetDuration: time.Duration(media.TargetDuration) * time.Second,
		MediaSequence:  uint64(media.MediaSequence),
		Endlist:        media.Endlist,
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		pl.Segments = append(pl.Segments, Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
		})
	}
	return pl, nil
}

// parseEmptyMedia decodes a media playlist that lists no segment, such as a
// live window that has just started. gohlslib refuses those, so the tags the
// engine needs are read directly: EXT-X-TARGETDURATION is required,
// EXT-X-MEDIA-SEQUENCE defaults to 0.
func parseEmptyMedia(text []byte) (*Playlist, error) {
	sc := bufio.NewScanner(bytes.NewReader(text))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "#EXTM3U" {
		return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalid)
	}

	pl := &Playlist{Kind: KindMedia}
	targetSet := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: target duration: %v", ErrInvalid, err)
			}
			pl.TargetDuration = time.Duration(v) * time.Second
			targetSet = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: media sequence: %v", ErrInvalid, err)
			}
			pl.MediaSequence = v
		case line == "#EXT-X-ENDLIST":
			pl.Endlist = true
		case strings.HasPrefix(line, "#"):
		default:
			return nil, fmt.Errorf("%w: unexpected line %q", ErrInvalid, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !targetSet {
		return nil, fmt.Errorf("%w: missing #EXT-X-TARGETDURATION", ErrInvalid)
	}
	return pl, nil
}
