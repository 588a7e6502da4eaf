package media

import (
	"errors"
	"strings"
	"testing"
)

const sampleProbeOutput = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"codec_type": "video",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "30000/1001",
			"avg_frame_rate": "30000/1001",
			"duration": "40.540500",
			"nb_frames": "1215"
		},
		{
			"index": 1,
			"codec_name": "aac",
			"codec_type": "audio",
			"r_frame_rate": "0/0",
			"avg_frame_rate": "0/0"
		}
	],
	"format": {
		"filename": "clip.mp4",
		"duration": "40.540500",
		"size": "10485760"
	}
}`

func TestParseProbe(t *testing.T) {
	meta, err := parseProbe(sampleProbeOutput)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}

	if meta.Width != 1920 || meta.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", meta.Width, meta.Height)
	}
	if got, want := meta.DurationSeconds, 40.5405; got != want {
		t.Errorf("DurationSeconds = %v, want %v", got, want)
	}
	if meta.FrameRate < 29.96 || meta.FrameRate > 29.98 {
		t.Errorf("FrameRate = %v, want ~29.97", meta.FrameRate)
	}
	if meta.TotalFrames != 1215 {
		t.Errorf("TotalFrames = %d, want 1215", meta.TotalFrames)
	}
}

func TestParseProbe_EstimatesMissingFrameCount(t *testing.T) {
	raw := `{
		"streams": [{"codec_type": "video", "width": 640, "height": 480, "avg_frame_rate": "25/1"}],
		"format": {"duration": "10.0"}
	}`

	meta, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if meta.TotalFrames != 250 {
		t.Errorf("TotalFrames = %d, want 250 (duration * rate)", meta.TotalFrames)
	}
}

func TestParseProbe_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", "moov atom not found", "parsing ffprobe output"},
		{"no video stream", `{"streams":[{"codec_type":"audio"}],"format":{"duration":"5"}}`, "no video stream"},
		{"no duration", `{"streams":[{"codec_type":"video","width":10,"height":10}],"format":{}}`, "no duration"},
		{"no dimensions", `{"streams":[{"codec_type":"video"}],"format":{"duration":"5"}}`, "no dimensions"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseProbe(tc.raw)
			if err == nil {
				t.Fatal("parseProbe should fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"0/0", 0},
		{"30", 30},
		{"", 0},
		{"garbage", 0},
	}

	for _, tc := range cases {
		if got := parseRate(tc.in); got != tc.want {
			t.Errorf("parseRate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestExpectedFrames(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{0, 0},
		{-1, 0},
		{0.5, 1},
		{1.0, 1},
		{40.0, 40},
		{40.9, 40},
	}

	for _, tc := range cases {
		m := Metadata{DurationSeconds: tc.duration}
		if got := m.ExpectedFrames(); got != tc.want {
			t.Errorf("ExpectedFrames(duration=%v) = %d, want %d", tc.duration, got, tc.want)
		}
	}
}

func TestUnreadableVideoError(t *testing.T) {
	underlying := errors.New("exit status 1")
	err := error(&UnreadableVideoError{Path: "/tmp/clip.mp4", Reason: "moov atom not found", Err: underlying})

	if got := err.Error(); !strings.Contains(got, "/tmp/clip.mp4") || !strings.Contains(got, "moov atom") {
		t.Errorf("Error() = %q, want path and reason", got)
	}

	var unreadable *UnreadableVideoError
	if !errors.As(err, &unreadable) {
		t.Fatal("errors.As should match *UnreadableVideoError")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}
