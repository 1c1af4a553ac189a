package player

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hls-engine/internal/playlist"
)

const (
	testMasterURL = "https://example.com/live/master.m3u8"
	testMediaURL  = "https://example.com/live/index.m3u8"
)

// fakeConverter echoes the segment bytes back as the media chunk.
type fakeConverter struct {
	err   error
	calls int
}

func (c *fakeConverter) Convert(ts []byte) ([]byte, []byte, error) {
	c.calls++
	if c.err != nil {
		return nil, nil, c.err
	}
	return []byte("init"), append([]byte("media:"), ts...), nil
}

type parserFunc func(text []byte) (*playlist.Playlist, error)

func (f parserFunc) Parse(text []byte) (*playlist.Playlist, error) {
	return f(text)
}

// mediaText renders a media playlist whose segments are named seg<N>.ts after
// their absolute sequence number.
func mediaText(target int, mediaSequence uint64, durations []float64, endlist bool) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)
	for i, d := range durations {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", d)
		fmt.Fprintf(&b, "seg%d.ts\n", mediaSequence+uint64(i))
	}
	if endlist {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return []byte(b.String())
}

func masterText(uris ...string) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for i, uri := range uris {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"avc1.640028,mp4a.40.2\"\n", (i+1)*1000000)
		b.WriteString(uri)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func segURL(seq uint64) string {
	return fmt.Sprintf("https://example.com/live/seg%d.ts", seq)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func drainActions(a interface{ NextAction() (Action, bool) }) []Action {
	var out []Action
	for {
		action, ok := a.NextAction()
		if !ok {
			return out
		}
		out = append(out, action)
	}
}

func drainOutputs(o interface{ NextOutput() []byte }) []string {
	var out []string
	for {
		chunk := o.NextOutput()
		if chunk == nil {
			return out
		}
		out = append(out, string(chunk))
	}
}

func fetch(id ActionID, url string) Action {
	return Action{Type: FetchData, ID: id, URL: url}
}

func timeout(id ActionID, d time.Duration) Action {
	return Action{Type: SetTimeout, ID: id, Duration: d}
}

func requireKind(t *testing.T, err error, kind Kind, target error) {
	t.Helper()
	require.Error(t, err)
	var engineErr *Error
	require.True(t, errors.As(err, &engineErr), "expected *Error, got %T", err)
	require.Equal(t, kind, engineErr.Kind)
	if target != nil {
		require.ErrorIs(t, err, target)
	}
}

// newStartedHandler returns a media handler that has consumed its bootstrap
// fetch and the given playlist text.
func newStartedHandler(t *testing.T, conv Converter, text []byte, opts ...Option) *MediaPlaylistHandler {
	t.Helper()
	opts = append([]Option{WithConverter(conv)}, opts...)
	h := NewMediaPlaylistHandler(mustURL(t, testMediaURL), NewActionFactory(0), opts...)
	bootstrap, ok := h.NextAction()
	require.True(t, ok)
	require.NoError(t, h.HandleData(bootstrap.ID, text))
	return h
}
