package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wildscope/wildscope/internal/session"
	"github.com/wildscope/wildscope/internal/storage"
)

type sessionResponse struct {
	VideoID       string           `json:"video_id"`
	Filename      string           `json:"filename"`
	UploadedAt    time.Time        `json:"uploaded_at"`
	VideoMetadata videoMetadata    `json:"video_metadata"`
	Turns         int              `json:"turns"`
	LastAnalysis  *analysisSummary `json:"last_analysis,omitempty"`
}

type analysisSummary struct {
	Analysis       string    `json:"analysis"`
	Species        []string  `json:"species"`
	FramesAnalyzed int       `json:"frames_analyzed"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, err := deps.Sessions.Active()
		if errors.Is(err, session.ErrNoSession) {
			httpError(w, http.StatusNotFound, "not_found", "no active session")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}

		turns, err := deps.Sessions.History()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}

		resp := sessionResponse{
			VideoID:       video.ID,
			Filename:      video.Filename,
			UploadedAt:    video.UploadedAt,
			VideoMetadata: metadataPayload(video),
			Turns:         len(turns),
		}

		latest, err := deps.Sessions.LatestResult()
		if err == nil {
			resp.LastAnalysis = summarize(latest)
		} else if !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "loading analysis: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// summarize converts a stored analysis row to its wire form.
func summarize(a storage.Analysis) *analysisSummary {
	species := []string{}
	_ = json.Unmarshal([]byte(a.SpeciesJSON), &species)
	return &analysisSummary{
		Analysis:       a.RawText,
		Species:        species,
		FramesAnalyzed: a.FramesAnalyzed,
		Model:          a.Model,
		CreatedAt:      a.CreatedAt,
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, err := deps.Sessions.BeginCall()
		if err != nil {
			httpError(w, http.StatusConflict, "conflict_error", "an analysis or chat call is in progress")
			return
		}
		defer release()

		removed, err := deps.Sessions.End()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing session: %v", err)
			return
		}
		removeFiles(removed)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}
