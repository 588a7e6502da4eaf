package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wildscope/wildscope/internal/analysis"
	"github.com/wildscope/wildscope/internal/session"
	"github.com/wildscope/wildscope/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions *session.Manager
	Analyzer Analyzer
}

// NewMCPServer creates an MCP server exposing the analysis tools and
// the session resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"wildscope",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("wildscope identifies wildlife in video. analyze_video runs the frame pipeline over the active session's upload, or over a local file when a path is given."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_video",
			mcp.WithDescription("Run wildlife analysis and return the result as JSON. Without a path the active session's video is analyzed and the result recorded in the session."),
			mcp.WithString("path", mcp.Description("Local video file to analyze instead of the session's upload")),
			mcp.WithString("prompt", mcp.Description("Custom analysis prompt; omit for the default wildlife survey")),
			mcp.WithNumber("sample_stride", mcp.Description("Keep every Nth extracted frame (default from config)")),
			mcp.WithNumber("max_frames", mcp.Description("Cap on frames sent to the model (default from config)")),
		),
		mcpAnalyzeVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_followup",
			mcp.WithDescription("Ask a follow-up question about the most recent analysis."),
			mcp.WithString("question", mcp.Description("Question about the analyzed video"), mcp.Required()),
		),
		mcpAskFollowup(deps),
	)

	s.AddTool(
		mcp.NewTool("list_species",
			mcp.WithDescription("List the species the most recent analysis identified."),
		),
		mcpListSpecies(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://current",
			"Active Session",
			mcp.WithResourceDescription("The active video session with its latest analysis"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

func mcpAnalyzeVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		areq := analysis.Request{
			VideoPath: req.GetString("path", ""),
			Prompt:    req.GetString("prompt", ""),
			Stride:    req.GetInt("sample_stride", 0),
			MaxFrames: req.GetInt("max_frames", 0),
		}

		release, err := deps.Sessions.BeginCall()
		if err != nil {
			return mcpError("an analysis or chat call is already in progress"), nil
		}
		defer release()

		// An explicit path runs one-shot and leaves the session alone.
		oneShot := areq.VideoPath != ""
		var video storage.Video
		if !oneShot {
			video, err = deps.Sessions.Active()
			if errors.Is(err, session.ErrNoSession) {
				return mcpError("no video uploaded and no path given, upload one via POST /api/videos or pass path"), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("loading session: %v", err)), nil
			}
			areq.VideoPath = video.Path
		}

		res, err := deps.Analyzer.Analyze(ctx, areq)
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}
		if !oneShot {
			if err := persistAnalysis(deps.Sessions, video.ID, res); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		return mcpResult(res), nil
	}
}

// mcpResult renders an analysis outcome as the tool's JSON payload.
func mcpResult(res analysis.Result) *mcp.CallToolResult {
	payload := struct {
		RawText        string        `json:"raw_text"`
		Species        []string      `json:"species"`
		FramesAnalyzed int           `json:"frames_analyzed"`
		Model          string        `json:"model"`
		VideoMetadata  videoMetadata `json:"video_metadata"`
	}{
		RawText:        res.RawText,
		Species:        res.Species,
		FramesAnalyzed: res.FramesAnalyzed,
		Model:          res.Model,
		VideoMetadata:  probePayload(res.Metadata),
	}
	if payload.Species == nil {
		payload.Species = []string{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return mcpError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcpText(string(b))
}

func mcpAskFollowup(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		release, err := deps.Sessions.BeginCall()
		if err != nil {
			return mcpError("an analysis or chat call is already in progress"), nil
		}
		defer release()

		turns, err := deps.Sessions.History()
		if errors.Is(err, session.ErrNoSession) {
			return mcpError("no video uploaded, upload one via POST /api/videos first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading history: %v", err)), nil
		}
		if len(turns) == 0 {
			return mcpError("no analysis to follow up on, run analyze_video first"), nil
		}

		answer, err := deps.Analyzer.Ask(ctx, question, analysis.HistoryMessages(turns))
		if err != nil {
			return mcpError(fmt.Sprintf("follow-up failed: %v", err)), nil
		}
		if err := deps.Sessions.AppendTurn("user", question); err != nil {
			return mcpError(fmt.Sprintf("recording question: %v", err)), nil
		}
		if err := deps.Sessions.AppendTurn("assistant", answer); err != nil {
			return mcpError(fmt.Sprintf("recording answer: %v", err)), nil
		}

		return mcpText(answer), nil
	}
}

func mcpListSpecies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		latest, err := deps.Sessions.LatestResult()
		if errors.Is(err, session.ErrNoSession) {
			return mcpError("no video uploaded, upload one via POST /api/videos first"), nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("the video has not been analyzed yet, run analyze_video first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading analysis: %v", err)), nil
		}

		species := []string{}
		if err := json.Unmarshal([]byte(latest.SpeciesJSON), &species); err != nil {
			return mcpError(fmt.Sprintf("decoding species list: %v", err)), nil
		}
		b, err := json.Marshal(species)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding species list: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		video, err := deps.Sessions.Active()
		if errors.Is(err, session.ErrNoSession) {
			return nil, errors.New("no active session")
		}
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}

		turns, err := deps.Sessions.History()
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}

		payload := sessionResponse{
			VideoID:       video.ID,
			Filename:      video.Filename,
			UploadedAt:    video.UploadedAt,
			VideoMetadata: metadataPayload(video),
			Turns:         len(turns),
		}
		latest, err := deps.Sessions.LatestResult()
		if err == nil {
			payload.LastAnalysis = summarize(latest)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading analysis: %w", err)
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling session: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
