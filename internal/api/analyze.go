package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wildscope/wildscope/internal/analysis"
	"github.com/wildscope/wildscope/internal/encode"
	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/session"
	"github.com/wildscope/wildscope/internal/storage"
	"github.com/wildscope/wildscope/internal/together"
)

type analyzeRequest struct {
	Prompt string `json:"prompt"`
}

type analysisResponse struct {
	Analysis       string        `json:"analysis"`
	Species        []string      `json:"species"`
	FramesAnalyzed int           `json:"frames_analyzed"`
	Model          string        `json:"model"`
	VideoMetadata  videoMetadata `json:"video_metadata"`
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// The body is optional; an absent prompt selects the default.
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		release, err := deps.Sessions.BeginCall()
		if err != nil {
			httpError(w, http.StatusConflict, "conflict_error", "an analysis or chat call is already in progress")
			return
		}
		defer release()

		video, err := deps.Sessions.Active()
		if errors.Is(err, session.ErrNoSession) {
			httpError(w, http.StatusNotFound, "not_found", "no video uploaded, POST /api/videos first")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}

		res, err := deps.Analyzer.Analyze(r.Context(), analysis.Request{
			VideoPath: video.Path,
			Prompt:    req.Prompt,
		})
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		if err := persistAnalysis(deps.Sessions, video.ID, res); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		resp := analysisResponse{
			Analysis:       res.RawText,
			Species:        res.Species,
			FramesAnalyzed: res.FramesAnalyzed,
			Model:          res.Model,
			VideoMetadata:  metadataPayload(video),
		}
		if resp.Species == nil {
			resp.Species = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type chatRequest struct {
	Question string `json:"question"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		release, err := deps.Sessions.BeginCall()
		if err != nil {
			httpError(w, http.StatusConflict, "conflict_error", "an analysis or chat call is already in progress")
			return
		}
		defer release()

		turns, err := deps.Sessions.History()
		if errors.Is(err, session.ErrNoSession) {
			httpError(w, http.StatusNotFound, "not_found", "no video uploaded, POST /api/videos first")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}
		if len(turns) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no analysis to follow up on, POST /api/analysis first")
			return
		}

		answer, err := deps.Analyzer.Ask(r.Context(), req.Question, analysis.HistoryMessages(turns))
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		if err := deps.Sessions.AppendTurn("user", req.Question); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording question: %v", err)
			return
		}
		if err := deps.Sessions.AppendTurn("assistant", answer); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording answer: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"answer": answer})
	}
}

// persistAnalysis records a completed run against the session video:
// the analysis row plus the prompt and answer as conversation turns.
func persistAnalysis(sessions *session.Manager, videoID string, res analysis.Result) error {
	speciesJSON := "[]"
	if len(res.Species) > 0 {
		b, err := json.Marshal(res.Species)
		if err != nil {
			return fmt.Errorf("marshaling species: %w", err)
		}
		speciesJSON = string(b)
	}

	rec := storage.Analysis{
		ID:             uuid.New().String(),
		VideoID:        videoID,
		Prompt:         res.Prompt,
		RawText:        res.RawText,
		SpeciesJSON:    speciesJSON,
		FramesAnalyzed: res.FramesAnalyzed,
		Model:          res.Model,
	}
	if err := sessions.SaveResult(rec); err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	if err := sessions.AppendTurn("user", res.Prompt); err != nil {
		return fmt.Errorf("recording prompt turn: %w", err)
	}
	if err := sessions.AppendTurn("assistant", res.RawText); err != nil {
		return fmt.Errorf("recording answer turn: %w", err)
	}
	return nil
}

// writeAnalysisError maps pipeline failures onto HTTP statuses.
func writeAnalysisError(w http.ResponseWriter, err error) {
	var unreadable *media.UnreadableVideoError
	var encErr *encode.EncodingError
	var apiErr *together.APIError
	switch {
	case errors.Is(err, analysis.ErrAnalysisTimeout):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "analysis timed out")
	case errors.Is(err, analysis.ErrEmptyResponse):
		httpError(w, http.StatusBadGateway, "api_error", "model returned an empty response")
	case errors.As(err, &unreadable):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "unreadable video: %s", unreadable.Reason)
	case errors.As(err, &apiErr):
		httpError(w, http.StatusBadGateway, "api_error", "%v", apiErr)
	case errors.As(err, &encErr):
		httpError(w, http.StatusInternalServerError, "api_error", "%v", encErr)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "analysis failed: %v", err)
	}
}
