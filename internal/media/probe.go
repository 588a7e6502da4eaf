package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Toolchain reports which of the ffmpeg binaries are on PATH.
func Toolchain() map[string]bool {
	out := make(map[string]bool, 2)
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		_, err := exec.LookPath(bin)
		out[bin] = err == nil
	}
	return out
}

// Probe inspects a video file with ffprobe and returns its metadata.
// Any failure to open or parse the file is reported as
// *UnreadableVideoError carrying the path and a best-effort reason.
func Probe(ctx context.Context, path string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return Metadata{}, &UnreadableVideoError{Path: path, Reason: "file not accessible", Err: err}
	}

	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return Metadata{}, &UnreadableVideoError{Path: path, Reason: "ffprobe failed: " + firstLine(err.Error()), Err: err}
	}

	meta, err := parseProbe(raw)
	if err != nil {
		return Metadata{}, &UnreadableVideoError{Path: path, Reason: err.Error(), Err: err}
	}
	return meta, nil
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbe(raw string) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Metadata{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	var video *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return Metadata{}, fmt.Errorf("no video stream found")
	}
	if video.Width <= 0 || video.Height <= 0 {
		return Metadata{}, fmt.Errorf("video stream has no dimensions")
	}

	duration := parseFloat(out.Format.Duration)
	if duration <= 0 {
		duration = parseFloat(video.Duration)
	}
	if duration <= 0 {
		return Metadata{}, fmt.Errorf("video has no duration")
	}

	rate := parseRate(video.AvgFrameRate)
	if rate <= 0 {
		rate = parseRate(video.RFrameRate)
	}

	total, _ := strconv.Atoi(video.NbFrames)
	if total <= 0 && rate > 0 {
		// Containers like webm often omit nb_frames; estimate it.
		total = int(math.Round(duration * rate))
	}

	return Metadata{
		FrameRate:       rate,
		DurationSeconds: duration,
		Width:           video.Width,
		Height:          video.Height,
		TotalFrames:     total,
	}, nil
}

// parseRate parses ffprobe's fractional rate notation ("30000/1001").
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
