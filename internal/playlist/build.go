package playlist

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWindowSize is the number of segments a Window lists when no size is given.
const DefaultWindowSize = 6

// LiveSegment is a published segment of a live media playlist.
type LiveSegment struct {
	Sequence uint64
	Duration time.Duration
	Path     string
}

// BuildLivePlaylist renders segments (ordered by sequence ascending) as an HLS
// live media playlist. If ended is true, #EXT-X-ENDLIST is appended.
// An empty segments slice produces a minimal valid playlist with media sequence 0.
func BuildLivePlaylist(segments []LiveSegment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDurationFromSegments(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// targetDurationFromSegments returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds.
func targetDurationFromSegments(segments []LiveSegment) int {
	max := 0.0
	for _, seg := range segments {
		if s := seg.Duration.Seconds(); s > max {
			max = s
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}

// SlidingWindow returns the last windowSize segments of segs that form a
// contiguous run: the window slides first, then everything after the first
// gap is hidden until the gap is filled. segs is sorted in place.
func SlidingWindow(segs []LiveSegment, windowSize int) []LiveSegment {
	if len(segs) == 0 || windowSize <= 0 {
		return nil
	}

	sort.Slice(segs, func(i, j int) bool {
		return segs[i].Sequence < segs[j].Sequence
	})

	start := 0
	if len(segs) > windowSize {
		start = len(segs) - windowSize
	}
	windowed := segs[start:]

	visible := make([]LiveSegment, 0, len(windowed))
	for i := 0; i < len(windowed); i++ {
		if i > 0 && windowed[i].Sequence != windowed[i-1].Sequence+1 {
			break
		}
		visible = append(visible, windowed[i])
	}
	return visible
}

// Window is a concurrency-safe live playlist that publishes segments and
// renders the current sliding window. Test origins serve it over HTTP.
type Window struct {
	mu       sync.RWMutex
	size     int
	segments map[uint64]LiveSegment
	ended    bool
}

// NewWindow returns an empty Window listing at most size segments. If
// size <= 0, DefaultWindowSize is used.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, segments: make(map[uint64]LiveSegment)}
}

// Publish adds seg. Duplicate sequence numbers are ignored, as are segments
// published after End.
func (w *Window) Publish(seg LiveSegment) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return
	}
	if _, exists := w.segments[seg.Sequence]; exists {
		return
	}
	w.segments[seg.Sequence] = seg
}

// End marks the playlist as ended.
func (w *Window) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ended = true
}

// Render returns the current playlist text.
func (w *Window) Render() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	segs := make([]LiveSegment, 0, len(w.segments))
	for _, seg := range w.segments {
		segs = append(segs, seg)
	}
	return BuildLivePlaylist(SlidingWindow(segs, w.size), w.ended)
}
