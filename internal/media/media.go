package media

import (
	"fmt"
	"time"
)

// frameInterval is the fixed extraction cadence: one frame per second
// of video.
const frameInterval = time.Second

// Frame is one decoded still image from the extraction stream.
// Frames are ephemeral: they live only for the duration of a single
// analysis request and are never persisted.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Data      []byte
}

// Metadata describes a probed video file.
type Metadata struct {
	FrameRate       float64
	DurationSeconds float64
	Width           int
	Height          int
	TotalFrames     int
}

// ExpectedFrames reports how many frames one-per-second extraction
// yields for this video: one per full second, rounding down the partial
// final window, and at least one for any positive duration.
func (m Metadata) ExpectedFrames() int {
	if m.DurationSeconds <= 0 {
		return 0
	}
	n := int(m.DurationSeconds)
	if n < 1 {
		return 1
	}
	return n
}

// UnreadableVideoError reports a video that the decoding backend could
// not open or decode. It is fatal for the request and never retried.
type UnreadableVideoError struct {
	Path   string
	Reason string
	Err    error
}

func (e *UnreadableVideoError) Error() string {
	return fmt.Sprintf("unreadable video %s: %s", e.Path, e.Reason)
}

func (e *UnreadableVideoError) Unwrap() error {
	return e.Err
}
