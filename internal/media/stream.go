package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FrameStream yields frames lazily from a running ffmpeg decode of one
// video: a finite, non-restartable sequence in the bufio.Scanner shape.
// Close reaps the decoder process and must be called on every exit path.
type FrameStream struct {
	path   string
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	r      *bufio.Reader

	index int
	frame Frame
	err   error

	done      chan struct{}
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

// OpenStream starts a one-frame-per-second decode of the video at path,
// emitting at most maxFrames JPEG frames over a pipe. The caller must
// Close the returned stream regardless of how consumption ends; if ctx
// is cancelled the decoder is killed and Scan unblocks.
func OpenStream(ctx context.Context, path string, maxFrames int) (*FrameStream, error) {
	if maxFrames < 1 {
		return nil, fmt.Errorf("maxFrames must be at least 1, got %d", maxFrames)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := ffmpeg.Input(path).
		Filter("fps", ffmpeg.Args{"1"}).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "image2pipe",
			"vcodec":   "mjpeg",
			"qscale:v": 2,
			"vframes":  maxFrames,
			"vsync":    "0",
		}).
		Compile()

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &UnreadableVideoError{Path: path, Reason: "starting ffmpeg: " + err.Error(), Err: err}
	}

	s := &FrameStream{
		path:   path,
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		r:      bufio.NewReaderSize(stdout, 64<<10),
		done:   make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Scan advances to the next frame. It returns false when the sequence
// ends or an error occurs; Err distinguishes the two.
func (s *FrameStream) Scan() bool {
	if s.err != nil {
		return false
	}

	data, err := readJPEG(s.r)
	switch {
	case err == io.EOF:
		// Decoder finished. A clean exit ends the sequence; a failed
		// exit (or one that produced nothing) marks the video unreadable.
		if werr := s.wait(); werr != nil {
			s.err = &UnreadableVideoError{Path: s.path, Reason: s.failureReason(), Err: werr}
		} else if s.index == 0 {
			s.err = &UnreadableVideoError{Path: s.path, Reason: "no frames could be extracted"}
		}
		return false
	case err != nil:
		if cerr := s.ctx.Err(); cerr != nil {
			s.err = cerr
		} else {
			s.err = &UnreadableVideoError{Path: s.path, Reason: "reading frame: " + err.Error(), Err: err}
		}
		return false
	}

	s.frame = Frame{
		Index:     s.index,
		Timestamp: time.Duration(s.index) * frameInterval,
		Data:      data,
	}
	s.index++
	return true
}

// Frame returns the frame produced by the last successful Scan.
func (s *FrameStream) Frame() Frame {
	return s.frame
}

// Err returns the first error encountered while scanning, if any.
func (s *FrameStream) Err() error {
	return s.err
}

// Close kills the decoder if it is still running and releases the pipe.
// Safe to call multiple times and from a goroutine other than the
// scanning one.
func (s *FrameStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stdout.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.wait()
	})
	return nil
}

func (s *FrameStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *FrameStream) failureReason() string {
	if line := lastLine(s.stderr.String()); line != "" {
		return line
	}
	return "ffmpeg exited with an error"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

const (
	markerPrefix = 0xff
	markerSOI    = 0xd8
	markerEOI    = 0xd9
)

// readJPEG reads one complete JPEG image from an MJPEG byte stream.
// It returns io.EOF when the stream ends cleanly between frames and
// io.ErrUnexpectedEOF when it ends inside a frame.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Seek the start-of-image marker, skipping any inter-frame noise.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != markerPrefix {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == markerSOI {
			break
		}
		if next == markerPrefix {
			// Could itself be the prefix of the marker; re-examine it.
			r.UnreadByte()
		}
	}

	buf := make([]byte, 2, 32<<10)
	buf[0], buf[1] = markerPrefix, markerSOI
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, b)
		if prev == markerPrefix && b == markerEOI {
			return buf, nil
		}
		prev = b
	}
}
