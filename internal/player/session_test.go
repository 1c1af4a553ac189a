package player

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-engine/internal/playlist"
)

func TestNewSession(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "absolute", url: testMasterURL},
		{name: "relative", url: "live/master.m3u8", wantErr: true},
		{name: "no host", url: "file:///master.m3u8", wantErr: true},
		{name: "unparsable", url: "https://exa mple.com/%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSession(tt.url)
			if tt.wantErr {
				requireKind(t, err, InvalidInput, nil)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.url, s.URL())
			assert.False(t, s.Started())
		})
	}
}

func TestSession_NotStarted(t *testing.T) {
	s, err := NewSession(testMediaURL)
	require.NoError(t, err)

	_, ok := s.NextAction()
	assert.False(t, ok)
	assert.Nil(t, s.NextOutput())
	assert.NoError(t, s.HandleData(0, []byte("data")))
	assert.NoError(t, s.HandleTimeout(0))
	assert.Equal(t, Stats{State: "not_started"}, s.Stats())
}

func TestSession_PlayMedia(t *testing.T) {
	s, err := NewSession(testMediaURL, WithConverter(&fakeConverter{}))
	require.NoError(t, err)

	require.NoError(t, s.Play(mediaText(10, 5, []float64{4, 4, 4}, false)))
	assert.True(t, s.Started())
	assert.Equal(t, "media", s.Stats().State)

	actions := drainActions(s)
	assert.Equal(t, []Action{
		fetch(0, segURL(5)),
		timeout(1, 4*time.Second),
	}, actions)

	require.NoError(t, s.HandleData(0, []byte("ts5")))
	assert.Equal(t, []string{"init", "media:ts5"}, drainOutputs(s))
	assert.Equal(t, []Action{fetch(2, segURL(6))}, drainActions(s))

	require.NoError(t, s.HandleTimeout(1))
	assert.Equal(t, []Action{fetch(3, testMediaURL)}, drainActions(s))
}

func TestSession_PlayEmptyLivePlaylist(t *testing.T) {
	s, err := NewSession(testMediaURL, WithConverter(&fakeConverter{}))
	require.NoError(t, err)

	require.NoError(t, s.Play([]byte("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:12\n")))
	assert.True(t, s.Started())
	assert.Equal(t, []Action{timeout(0, 6*time.Second)}, drainActions(s))
}

func TestSession_PlayMaster(t *testing.T) {
	s, err := NewSession(testMasterURL, WithConverter(&fakeConverter{}))
	require.NoError(t, err)

	require.NoError(t, s.Play(masterText("hi/index.m3u8", "lo/index.m3u8")))
	assert.Equal(t, "master", s.Stats().State)

	variantURL := "https://example.com/live/hi/index.m3u8"
	assert.Equal(t, []Action{fetch(0, variantURL)}, drainActions(s))

	require.NoError(t, s.HandleData(0, mediaText(10, 0, []float64{4, 4}, false)))
	assert.Equal(t, []Action{
		fetch(1, "https://example.com/live/hi/seg0.ts"),
		timeout(2, 4*time.Second),
	}, drainActions(s))

	require.NoError(t, s.HandleData(1, []byte("ts0")))
	assert.Equal(t, []string{"init", "media:ts0"}, drainOutputs(s))
	assert.Equal(t, []Action{fetch(3, "https://example.com/live/hi/seg1.ts")}, drainActions(s))

	require.NoError(t, s.HandleTimeout(2))
	assert.Equal(t, []Action{fetch(4, variantURL)}, drainActions(s))
}

func TestSession_PlayTwice(t *testing.T) {
	s, err := NewSession(testMediaURL, WithConverter(&fakeConverter{}))
	require.NoError(t, err)
	require.NoError(t, s.Play(mediaText(10, 0, []float64{4}, false)))
	before := s.Stats()

	err = s.Play(mediaText(10, 0, []float64{4}, false))
	requireKind(t, err, InvalidInput, ErrAlreadyStarted)
	assert.Equal(t, before, s.Stats())
}

func TestSession_PlayFailures(t *testing.T) {
	t.Run("invalid utf-8", func(t *testing.T) {
		s, err := NewSession(testMediaURL)
		require.NoError(t, err)
		requireKind(t, s.Play([]byte{0xc3, 0x28}), InvalidInput, ErrNotUTF8)
		assert.False(t, s.Started())
	})

	t.Run("malformed", func(t *testing.T) {
		s, err := NewSession(testMediaURL)
		require.NoError(t, err)
		requireKind(t, s.Play([]byte("garbage")), InvalidInput, nil)
		assert.False(t, s.Started())
	})

	t.Run("no variants", func(t *testing.T) {
		empty := parserFunc(func([]byte) (*playlist.Playlist, error) {
			return &playlist.Playlist{Kind: playlist.KindMaster}, nil
		})
		s, err := NewSession(testMasterURL, WithParser(empty))
		require.NoError(t, err)
		requireKind(t, s.Play([]byte("#EXTM3U\n")), InvalidInput, ErrNoVariants)
		assert.False(t, s.Started())

		// A failed Play leaves the session startable.
		requireKind(t, s.Play([]byte("#EXTM3U\n")), InvalidInput, ErrNoVariants)
	})

	t.Run("unresolvable variant", func(t *testing.T) {
		failing := func(*url.URL, string) (*url.URL, error) {
			return nil, errEmptyReference
		}
		s, err := NewSession(testMasterURL, WithResolver(failing))
		require.NoError(t, err)
		requireKind(t, s.Play(masterText("hi/index.m3u8")), InvalidInput, errEmptyReference)
		assert.False(t, s.Started())
	})
}

func TestSession_ErrorTraceAcrossBoundaries(t *testing.T) {
	s, err := NewSession(testMasterURL, WithConverter(&fakeConverter{}))
	require.NoError(t, err)
	require.NoError(t, s.Play(masterText("hi/index.m3u8")))
	drainActions(s)

	err = s.HandleData(0, []byte{0xff})
	requireKind(t, err, InvalidInput, ErrNotUTF8)

	engineErr := err.(*Error)
	// Created in the media handler, then tracked by the media handler, the
	// master handler and the session.
	require.Len(t, engineErr.Trace, 4)
	assert.Equal(t, "player/media.go", engineErr.Trace[0].File)
	assert.Equal(t, "player/media.go", engineErr.Trace[1].File)
	assert.Equal(t, "player/master.go", engineErr.Trace[2].File)
	assert.Equal(t, "player/session.go", engineErr.Trace[3].File)

	raw, jerr := json.Marshal(engineErr)
	require.NoError(t, jerr)
	assert.Contains(t, string(raw), `"kind":"InvalidInput"`)
	assert.Contains(t, string(raw), `"reason":"playlist is not valid UTF-8"`)
}

func TestSession_Logging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := NewSession(testMediaURL, WithLogger(log), WithConverter(&fakeConverter{}))
	require.NoError(t, err)
	require.NoError(t, s.Play(mediaText(10, 0, []float64{4}, false)))
	require.NoError(t, s.HandleTimeout(999))

	out := buf.String()
	assert.Contains(t, out, `"msg":"media playlist refreshed"`)
	assert.Contains(t, out, `"msg":"session started"`)
	assert.Contains(t, out, `"msg":"ignoring stale timeout"`)
}

func TestResolveURL(t *testing.T) {
	base, err := url.Parse("https://example.com/live/index.m3u8?token=abc")
	require.NoError(t, err)

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "seg1.ts", want: "https://example.com/live/seg1.ts"},
		{ref: "../other/seg1.ts", want: "https://example.com/other/seg1.ts"},
		{ref: "/root.ts", want: "https://example.com/root.ts"},
		{ref: "https://cdn.example.net/seg1.ts", want: "https://cdn.example.net/seg1.ts"},
		{ref: "", wantErr: true},
		{ref: "%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveURL(base, tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
