package player

import (
	"errors"
	"fmt"
	"net/url"

	"hls-engine/internal/playlist"
)

// Parser decodes playlist text.
type Parser interface {
	Parse(text []byte) (*playlist.Playlist, error)
}

// Converter turns one MPEG-TS segment into a fragmented MP4 initialization
// chunk and media chunk.
type Converter interface {
	Convert(ts []byte) (init, media []byte, err error)
}

// Resolver resolves a playlist reference against the URL of the playlist that
// contains it.
type Resolver func(base *url.URL, ref string) (*url.URL, error)

var errEmptyReference = errors.New("empty URI reference")

// ResolveURL is the default Resolver. It follows RFC 3986 reference
// resolution and rejects empty or unparsable references.
func ResolveURL(base *url.URL, ref string) (*url.URL, error) {
	if ref == "" {
		return nil, errEmptyReference
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return base.ResolveReference(u), nil
}
