// Package api exposes the HTTP surface: video upload, analysis,
// follow-up chat, session inspection, progress streaming, and health.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wildscope/wildscope/internal/analysis"
	"github.com/wildscope/wildscope/internal/config"
	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/progress"
	"github.com/wildscope/wildscope/internal/session"
	"github.com/wildscope/wildscope/internal/storage"
	"github.com/wildscope/wildscope/internal/together"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Analyzer runs the analysis pipeline and follow-up questions.
// Implemented by analysis.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error)
	Ask(ctx context.Context, question string, history []together.Message) (string, error)
}

// Prober reads container metadata from an uploaded file. Implemented
// by media.Probe.
type Prober func(ctx context.Context, path string) (media.Metadata, error)

// Deps holds the wired dependencies for the HTTP API.
type Deps struct {
	Sessions *session.Manager
	Analyzer Analyzer
	Hub      *progress.Hub
	Storage  config.StorageConfig
	Token    string // optional; empty disables bearer auth
	Version  string
	Model    string
	Probe    Prober // optional; defaults to media.Probe
}

func (d Deps) probe() Prober {
	if d.Probe != nil {
		return d.Probe
	}
	return media.Probe
}

// NewHandler returns the wildscope REST API. Reads stay open; the
// routes that mutate the session sit behind bearer auth when a token
// is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", handleHealth(deps))
	r.Get("/api/session", handleGetSession(deps))
	r.Get("/api/progress", handleProgress(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/api/videos", handleUpload(deps))
		r.Post("/api/analysis", handleAnalyze(deps))
		r.Post("/api/chat", handleChat(deps))
		r.Delete("/api/session", handleDeleteSession(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := media.Toolchain()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": deps.Version,
			"ffmpeg":  tools["ffmpeg"] && tools["ffprobe"],
			"model":   deps.Model,
		})
	}
}

// BearerAuth rejects requests whose Authorization header does not carry
// the configured token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// videoMetadata is the wire form of probed container properties.
type videoMetadata struct {
	FrameRate       float64 `json:"frame_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

func metadataPayload(v storage.Video) videoMetadata {
	return videoMetadata{
		FrameRate:       v.FrameRate,
		DurationSeconds: v.DurationSeconds,
		Width:           v.Width,
		Height:          v.Height,
		SizeBytes:       v.SizeBytes,
	}
}

func probePayload(m media.Metadata) videoMetadata {
	return videoMetadata{
		FrameRate:       m.FrameRate,
		DurationSeconds: m.DurationSeconds,
		Width:           m.Width,
		Height:          m.Height,
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
