package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wildscope/wildscope/internal/analysis"
	"github.com/wildscope/wildscope/internal/config"
	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/progress"
	"github.com/wildscope/wildscope/internal/together"
)

var (
	analyzePrompt    string
	analyzeStride    int
	analyzeMaxFrames int
	analyzeJSON      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video>",
	Short: "Analyze a local video file without the server",
	Long: `Analyze runs the frame pipeline over a local video file and prints
the model's answer. It talks to the provider directly and leaves any
running server session untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(args[0])
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzePrompt, "prompt", "p", "", "custom analysis prompt")
	analyzeCmd.Flags().IntVar(&analyzeStride, "stride", 0, "keep every Nth extracted frame (default from config)")
	analyzeCmd.Flags().IntVar(&analyzeMaxFrames, "max-frames", 0, "cap on frames sent to the model (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON on stdout")
}

func runAnalyze(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("video not found: %w", err)
	}
	tools := media.Toolchain()
	if !tools["ffmpeg"] || !tools["ffprobe"] {
		return fmt.Errorf("ffmpeg and ffprobe are required on PATH")
	}

	client := together.New(together.Config{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	orch := analysis.NewOrchestrator(client, stepPrinter{}, analysis.Config{
		SampleStride:    cfg.Pipeline.SampleStride,
		MaxFrames:       cfg.Pipeline.MaxFrames,
		AnalysisTimeout: cfg.Pipeline.AnalysisTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := orch.Analyze(ctx, analysis.Request{
		VideoPath: path,
		Prompt:    analyzePrompt,
		Stride:    analyzeStride,
		MaxFrames: analyzeMaxFrames,
	})
	if err != nil {
		return err
	}

	if analyzeJSON {
		return printAnalysisJSON(res)
	}

	if len(res.Species) > 0 {
		printSuccess("%s", strings.Join(res.Species, ", "))
	} else {
		printWarning("no species header in the answer")
	}
	fmt.Println(res.RawText)
	return nil
}

func printAnalysisJSON(res analysis.Result) error {
	species := res.Species
	if species == nil {
		species = []string{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RawText        string   `json:"raw_text"`
		Species        []string `json:"species"`
		FramesAnalyzed int      `json:"frames_analyzed"`
		Model          string   `json:"model"`
	}{res.RawText, species, res.FramesAnalyzed, res.Model})
}

// stepPrinter narrates pipeline stages on stderr.
type stepPrinter struct{}

func (stepPrinter) Publish(e progress.Event) {
	switch e.Stage {
	case progress.StageExtract:
		printStep("frame %d/%d", e.Frame, e.Total)
	case progress.StageDone:
		printSuccess("%s", e.Message)
	case progress.StageError:
		// runAnalyze surfaces the error itself.
	default:
		printStep("%s", e.Message)
	}
}
