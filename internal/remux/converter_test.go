package remux

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS    = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	testNonIDR = []byte{0x41, 0x9a, 0x21, 0x6c, 0x45, 0xff}
)

func testAudioConfig() mpeg4audio.AudioSpecificConfig {
	return mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	}
}

// writeSegment muxes videoAUs into an MPEG-TS segment, with one AAC frame per
// access unit if withAudio is set.
func writeSegment(t *testing.T, withAudio bool, videoAUs ...[][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	videoTrack := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	tracks := []*mpegts.Track{videoTrack}

	var audioTrack *mpegts.Track
	if withAudio {
		audioTrack = &mpegts.Track{PID: 257, Codec: &mpegts.CodecMPEG4Audio{Config: testAudioConfig()}}
		tracks = append(tracks, audioTrack)
	}

	w := &mpegts.Writer{W: &buf, Tracks: tracks}
	require.NoError(t, w.Initialize())

	for i, au := range videoAUs {
		ts := int64(90000 + i*3000)
		require.NoError(t, w.WriteH264(videoTrack, ts, ts, au))
		if withAudio {
			require.NoError(t, w.WriteMPEG4Audio(audioTrack, ts, [][]byte{{0x01, 0x02, 0x03, 0x04}}))
		}
	}

	return buf.Bytes()
}

func TestConverter_Convert(t *testing.T) {
	ts := writeSegment(t, true,
		[][]byte{testSPS, testPPS, testIDR},
		[][]byte{testNonIDR},
		[][]byte{testNonIDR},
	)

	c := NewConverter()
	initChunk, mediaChunk, err := c.Convert(ts)
	require.NoError(t, err)
	require.NotEmpty(t, initChunk)
	require.NotEmpty(t, mediaChunk)

	var initSeg fmp4.Init
	require.NoError(t, initSeg.Unmarshal(bytes.NewReader(initChunk)))
	require.Len(t, initSeg.Tracks, 2)

	assert.Equal(t, videoTrackID, initSeg.Tracks[0].ID)
	assert.Equal(t, uint32(videoTimeScale), initSeg.Tracks[0].TimeScale)
	videoCodec, ok := initSeg.Tracks[0].Codec.(*mp4.CodecH264)
	require.True(t, ok)
	assert.Equal(t, testSPS, videoCodec.SPS)
	assert.Equal(t, testPPS, videoCodec.PPS)

	assert.Equal(t, audioTrackID, initSeg.Tracks[1].ID)
	assert.Equal(t, uint32(48000), initSeg.Tracks[1].TimeScale)
	_, ok = initSeg.Tracks[1].Codec.(*mp4.CodecMPEG4Audio)
	assert.True(t, ok)

	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(mediaChunk))
	require.Len(t, parts, 1)
	assert.Equal(t, uint32(1), parts[0].SequenceNumber)

	var video *fmp4.PartTrack
	for _, track := range parts[0].Tracks {
		if track.ID == videoTrackID {
			video = track
		}
	}
	require.NotNil(t, video)
	require.NotEmpty(t, video.Samples)
	assert.False(t, video.Samples[0].IsNonSyncSample)
}

func TestConverter_SequenceNumbers(t *testing.T) {
	ts := writeSegment(t, false,
		[][]byte{testSPS, testPPS, testIDR},
		[][]byte{testNonIDR},
	)

	c := NewConverter()
	for want := uint32(1); want <= 3; want++ {
		_, mediaChunk, err := c.Convert(ts)
		require.NoError(t, err)

		var parts fmp4.Parts
		require.NoError(t, parts.Unmarshal(mediaChunk))
		require.Len(t, parts, 1)
		assert.Equal(t, want, parts[0].SequenceNumber)
	}
}

func TestConverter_Errors(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, _, err := NewConverter().Convert([]byte("definitely not a transport stream"))
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := NewConverter().Convert(nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing parameter sets", func(t *testing.T) {
		ts := writeSegment(t, false, [][]byte{testIDR}, [][]byte{testNonIDR})
		_, _, err := NewConverter().Convert(ts)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("no supported track", func(t *testing.T) {
		var buf bytes.Buffer
		track := &mpegts.Track{PID: 256, Codec: &mpegts.CodecMPEG1Audio{}}
		w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{track}}
		require.NoError(t, w.Initialize())

		frame := make([]byte, 417)
		copy(frame, []byte{0xff, 0xfb, 0x90, 0x64})
		require.NoError(t, w.WriteMPEG1Audio(track, 90000, [][]byte{frame}))

		_, _, err := NewConverter().Convert(buf.Bytes())
		require.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("failed conversion keeps sequence number", func(t *testing.T) {
		c := NewConverter()
		_, _, err := c.Convert([]byte("garbage"))
		require.Error(t, err)
		assert.Equal(t, uint32(1), c.sequenceNumber)
	})
}
