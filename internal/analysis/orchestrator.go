// Package analysis runs the frame-to-answer pipeline for one video:
// probe, extract, sample, encode, stream the model's reply, parse the
// species block.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wildscope/wildscope/internal/encode"
	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/metrics"
	"github.com/wildscope/wildscope/internal/progress"
	"github.com/wildscope/wildscope/internal/sampling"
	"github.com/wildscope/wildscope/internal/species"
	"github.com/wildscope/wildscope/internal/together"
)

// ErrEmptyResponse is returned when the provider stream finishes
// without producing any content, even after the retry.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrAnalysisTimeout is returned when a run exceeds the configured
// analysis timeout.
var ErrAnalysisTimeout = errors.New("analysis timed out")

// FrameSource probes and extracts frames from a video file.
// Implemented by the media package.
type FrameSource interface {
	Probe(ctx context.Context, path string) (media.Metadata, error)
	OpenStream(ctx context.Context, path string, maxFrames int) (FrameStream, error)
}

// FrameStream is a lazy frame sequence. Close must be called on every
// path out of a consuming function.
type FrameStream interface {
	Scan() bool
	Frame() media.Frame
	Err() error
	Close() error
}

// Chatter streams chat completions. Implemented by together.Client.
type Chatter interface {
	ChatStream(ctx context.Context, messages []together.Message) (io.ReadCloser, error)
	Model() string
}

// Notifier publishes pipeline progress events.
type Notifier interface {
	Publish(e progress.Event)
}

// Config tunes the pipeline.
type Config struct {
	SampleStride    int
	MaxFrames       int
	AnalysisTimeout time.Duration
}

// Request describes one pipeline invocation. Zero Stride or MaxFrames
// selects the configured default; History carries prior conversation
// turns into the model call.
type Request struct {
	VideoPath string
	Prompt    string
	Stride    int
	MaxFrames int
	History   []together.Message
}

// Result is the assembled outcome of one analysis run.
type Result struct {
	RawText        string
	Species        []string
	FramesAnalyzed int
	Metadata       media.Metadata
	Model          string
	Prompt         string
}

// Orchestrator drives the pipeline against a provider client.
type Orchestrator struct {
	source   FrameSource
	chatter  Chatter
	notifier Notifier
	cfg      Config
}

// NewOrchestrator wires the production pipeline over ffmpeg extraction.
func NewOrchestrator(chatter Chatter, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{source: mediaSource{}, chatter: chatter, notifier: notifier, cfg: cfg}
}

// NewOrchestratorWithSource creates an Orchestrator over a custom frame
// source (for testing).
func NewOrchestratorWithSource(source FrameSource, chatter Chatter, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{source: source, chatter: chatter, notifier: notifier, cfg: cfg}
}

// mediaSource adapts the media package to the FrameSource interface.
type mediaSource struct{}

func (mediaSource) Probe(ctx context.Context, path string) (media.Metadata, error) {
	return media.Probe(ctx, path)
}

func (mediaSource) OpenStream(ctx context.Context, path string, maxFrames int) (FrameStream, error) {
	s, err := media.OpenStream(ctx, path, maxFrames)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AnalyzeVideo runs the full pipeline over the video at path with the
// configured defaults. An empty prompt selects the default wildlife
// survey prompt.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, path, prompt string) (Result, error) {
	return o.Analyze(ctx, Request{VideoPath: path, Prompt: prompt})
}

// Analyze runs the full pipeline for req. All ephemeral frame data is
// released before the call returns, whatever the outcome.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AnalysisTimeout)
	defer cancel()

	metrics.ActiveAnalyses.Inc()
	defer metrics.ActiveAnalyses.Dec()

	res, err := o.analyze(ctx, req, o.settings(req))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrAnalysisTimeout
		}
		metrics.AnalysesTotal.WithLabelValues(statusLabel(err)).Inc()
		o.notify(progress.Event{Stage: progress.StageError, Message: err.Error()})
		return Result{}, err
	}

	metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	o.notify(progress.Event{
		Stage:   progress.StageDone,
		Message: fmt.Sprintf("analysis complete, %d species identified", len(res.Species)),
	})
	return res, nil
}

// settings resolves per-request stride and frame-cap overrides against
// the configured defaults.
func (o *Orchestrator) settings(req Request) Config {
	cfg := o.cfg
	if req.Stride > 0 {
		cfg.SampleStride = req.Stride
	}
	if req.MaxFrames > 0 {
		cfg.MaxFrames = req.MaxFrames
	}
	return cfg
}

func (o *Orchestrator) analyze(ctx context.Context, req Request, cfg Config) (Result, error) {
	probeStart := time.Now()
	meta, err := o.source.Probe(ctx, req.VideoPath)
	if err != nil {
		return Result{}, err
	}
	metrics.StageDuration.WithLabelValues("probe").Observe(time.Since(probeStart).Seconds())
	o.notify(progress.Event{
		Stage:   progress.StageProbe,
		Message: fmt.Sprintf("%.1fs of video at %.2f fps", meta.DurationSeconds, meta.FrameRate),
	})

	frames, err := o.collectFrames(ctx, req.VideoPath, meta.ExpectedFrames(), cfg)
	if err != nil {
		return Result{}, err
	}

	encodeStart := time.Now()
	encoded, err := encode.Frames(ctx, frames)
	// Only the encoded copies travel from here on.
	frames = nil
	if err != nil {
		return Result{}, err
	}
	metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(encodeStart).Seconds())
	o.notify(progress.Event{
		Stage:   progress.StageEncode,
		Message: fmt.Sprintf("%d frames encoded", len(encoded)),
	})

	uris := make([]string, len(encoded))
	for i, e := range encoded {
		uris[i] = e.DataURI
	}

	text, err := o.callModel(ctx, BuildMessages(req.Prompt, req.History, uris))
	if err != nil {
		return Result{}, err
	}

	report := species.Parse(text)
	o.notify(progress.Event{
		Stage:   progress.StageParse,
		Message: fmt.Sprintf("%d species parsed from the answer", len(report.Species)),
	})

	return Result{
		RawText:        report.RawText,
		Species:        report.Species,
		FramesAnalyzed: len(encoded),
		Metadata:       meta,
		Model:          o.chatter.Model(),
		Prompt:         effectivePrompt(req.Prompt),
	}, nil
}

// collectFrames drains the extractor, keeping only the sampled picks
// and dropping every other frame as it streams past. The stream is
// closed on every path out.
func (o *Orchestrator) collectFrames(ctx context.Context, path string, expected int, cfg Config) ([]media.Frame, error) {
	extractStart := time.Now()

	stream, err := o.source.OpenStream(ctx, path, expected)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	sel := sampling.NewSelector(expected, cfg.SampleStride, cfg.MaxFrames)
	picked := make([]media.Frame, 0, sel.Planned())
	scanned := 0
	for stream.Scan() {
		f := stream.Frame()
		scanned++
		if sel.Take(f.Index) {
			picked = append(picked, f)
			o.notify(progress.Event{
				Stage:   progress.StageExtract,
				Message: "sampling frames",
				Frame:   len(picked),
				Total:   sel.Planned(),
			})
		}
		if sel.Done() {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	metrics.FramesExtractedTotal.Add(float64(scanned))
	metrics.FramesAnalyzedTotal.Add(float64(len(picked)))
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())

	if len(picked) == 0 {
		return nil, &media.UnreadableVideoError{Path: path, Reason: "no frames could be extracted"}
	}
	return picked, nil
}

// callModel streams the completion and assembles its text. An empty
// answer is retried once before surfacing ErrEmptyResponse.
func (o *Orchestrator) callModel(ctx context.Context, messages []together.Message) (string, error) {
	modelStart := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("model").Observe(time.Since(modelStart).Seconds())
	}()

	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 0 {
			o.notify(progress.Event{Stage: progress.StageModel, Message: "waiting for the model"})
		} else {
			metrics.AnalysisRetriesTotal.Inc()
			o.notify(progress.Event{Stage: progress.StageModel, Message: "empty answer, retrying once"})
		}

		text, err := o.streamOnce(ctx, messages)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyResponse
}

func (o *Orchestrator) streamOnce(ctx context.Context, messages []together.Message) (string, error) {
	rc, err := o.chatter.ChatStream(ctx, messages)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	text, _, err := together.CollectStream(rc)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Ask sends a follow-up question grounded in the recorded conversation.
// No frames are re-sent; the model answers from its prior analysis.
func (o *Orchestrator) Ask(ctx context.Context, question string, history []together.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AnalysisTimeout)
	defer cancel()

	messages := make([]together.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, together.TextMessage(roleUser, question))

	text, err := o.callModel(ctx, messages)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrAnalysisTimeout
		}
		return "", err
	}
	return text, nil
}

func (o *Orchestrator) notify(e progress.Event) {
	if o.notifier != nil {
		o.notifier.Publish(e)
	}
}

func statusLabel(err error) string {
	var unreadable *media.UnreadableVideoError
	var apiErr *together.APIError
	switch {
	case errors.Is(err, ErrAnalysisTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.As(err, &unreadable):
		return "unreadable"
	case errors.As(err, &apiErr):
		return "provider"
	default:
		return "error"
	}
}
