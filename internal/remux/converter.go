// Package remux converts MPEG-TS segments into fragmented MP4.
package remux

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

var (
	// ErrInvalidInput is wrapped by failures caused by malformed segments.
	ErrInvalidInput = errors.New("invalid transport stream")

	// ErrUnsupported is wrapped when a segment carries no H.264 or AAC track.
	ErrUnsupported = errors.New("unsupported transport stream")
)

const (
	videoTrackID    = 1
	audioTrackID    = 2
	videoTimeScale  = 90000
	defaultDuration = 3000 // ~33ms at 90kHz

	aacSamplesPerFrame = 1024
)

// Converter turns MPEG-TS segments into an fMP4 initialization chunk and one
// fMP4 fragment per segment. Fragment sequence numbers increase with every
// successful conversion. A Converter is not safe for concurrent use.
type Converter struct {
	sequenceNumber uint32
}

// NewConverter returns a Converter.
func NewConverter() *Converter {
	return &Converter{sequenceNumber: 1}
}

type videoUnit struct {
	pts, dts int64
	au       [][]byte
}

type videoTrack struct {
	sps, pps []byte
	units    []videoUnit
}

func (v *videoTrack) push(pts, dts int64, au [][]byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			v.sps = bytes.Clone(nalu)
		case h264.NALUTypePPS:
			v.pps = bytes.Clone(nalu)
		}
	}
	v.units = append(v.units, videoUnit{pts: pts, dts: dts, au: au})
}

type audioTrack struct {
	config   mpeg4audio.AudioSpecificConfig
	firstPTS int64
	aus      [][]byte
}

func (a *audioTrack) push(pts int64, aus [][]byte) {
	if len(a.aus) == 0 {
		a.firstPTS = pts
	}
	a.aus = append(a.aus, aus...)
}

// Convert demuxes ts and returns the initialization chunk describing its
// tracks and the media fragment holding its samples.
func (c *Converter) Convert(ts []byte) (init, media []byte, err error) {
	r := &mpegts.Reader{R: bytes.NewReader(ts)}
	if err := r.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var (
		video *videoTrack
		audio *audioTrack
	)
	for _, track := range r.Tracks() {
		switch codec := track.Codec.(type) {
		case *mpegts.CodecH264:
			if video != nil {
				continue
			}
			v := &videoTrack{}
			video = v
			r.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
				v.push(pts, dts, au)
				return nil
			})
		case *mpegts.CodecMPEG4Audio:
			if audio != nil {
				continue
			}
			a := &audioTrack{config: codec.Config}
			audio = a
			r.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
				a.push(pts, aus)
				return nil
			})
		}
	}
	if video == nil && audio == nil {
		return nil, nil, fmt.Errorf("%w: no H.264 or AAC track", ErrUnsupported)
	}

	var decodeErr error
	r.OnDecodeError(func(err error) {
		if decodeErr == nil {
			decodeErr = err
		}
	})

	for {
		if err := r.Read(); err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	if video != nil && len(video.units) == 0 {
		video = nil
	}
	if audio != nil && len(audio.aus) == 0 {
		audio = nil
	}
	if video == nil && audio == nil {
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("%w: no media samples: %v", ErrInvalidInput, decodeErr)
		}
		return nil, nil, fmt.Errorf("%w: no media samples", ErrInvalidInput)
	}

	initSeg := fmp4.Init{}
	part := fmp4.Part{SequenceNumber: c.sequenceNumber}

	if video != nil {
		if len(video.sps) == 0 || len(video.pps) == 0 {
			return nil, nil, fmt.Errorf("%w: H.264 SPS/PPS not found", ErrInvalidInput)
		}
		track, err := video.partTrack()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		initSeg.Tracks = append(initSeg.Tracks, &fmp4.InitTrack{
			ID:        videoTrackID,
			TimeScale: videoTimeScale,
			Codec:     &mp4.CodecH264{SPS: video.sps, PPS: video.pps},
		})
		part.Tracks = append(part.Tracks, track)
	}

	if audio != nil {
		if audio.config.SampleRate <= 0 {
			return nil, nil, fmt.Errorf("%w: invalid AAC sample rate %d", ErrInvalidInput, audio.config.SampleRate)
		}
		initSeg.Tracks = append(initSeg.Tracks, &fmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: uint32(audio.config.SampleRate),
			Codec:     &mp4.CodecMPEG4Audio{Config: audio.config},
		})
		part.Tracks = append(part.Tracks, audio.partTrack())
	}

	var initBuf seekablebuffer.Buffer
	if err := initSeg.Marshal(&initBuf); err != nil {
		return nil, nil, fmt.Errorf("marshaling init: %w", err)
	}

	var partBuf seekablebuffer.Buffer
	if err := part.Marshal(&partBuf); err != nil {
		return nil, nil, fmt.Errorf("marshaling part: %w", err)
	}

	c.sequenceNumber++
	return initBuf.Bytes(), partBuf.Bytes(), nil
}

func (v *videoTrack) partTrack() (*fmp4.PartTrack, error) {
	samples := make([]*fmp4.Sample, 0, len(v.units))
	for i, u := range v.units {
		duration := uint32(defaultDuration)
		switch {
		case i+1 < len(v.units) && v.units[i+1].dts > u.dts:
			duration = uint32(v.units[i+1].dts - u.dts)
		case i > 0 && u.dts > v.units[i-1].dts:
			duration = uint32(u.dts - v.units[i-1].dts)
		}

		sample := &fmp4.Sample{Duration: duration}
		if err := sample.FillH264(int32(u.pts-u.dts), u.au); err != nil {
			return nil, err
		}
		sample.IsNonSyncSample = !h264.IsRandomAccess(u.au)
		samples = append(samples, sample)
	}

	return &fmp4.PartTrack{
		ID:       videoTrackID,
		BaseTime: baseTime(v.units[0].dts),
		Samples:  samples,
	}, nil
}

func (a *audioTrack) partTrack() *fmp4.PartTrack {
	samples := make([]*fmp4.Sample, 0, len(a.aus))
	for _, au := range a.aus {
		samples = append(samples, &fmp4.Sample{
			Duration: aacSamplesPerFrame,
			Payload:  au,
		})
	}

	rate := int64(a.config.SampleRate)
	return &fmp4.PartTrack{
		ID:       audioTrackID,
		BaseTime: baseTime(a.firstPTS * rate / videoTimeScale),
		Samples:  samples,
	}
}

func baseTime(t int64) uint64 {
	if t < 0 {
		return 0
	}
	return uint64(t)
}
