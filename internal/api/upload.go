package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/storage"
)

const multipartMemoryLimit = 32 << 20 // larger parts spool to temp files

// allowedExtensions are the accepted upload container types.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

type uploadResponse struct {
	VideoID       string        `json:"video_id"`
	Filename      string        `json:"filename"`
	VideoMetadata videoMetadata `json:"video_metadata"`
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, err := deps.Sessions.BeginCall()
		if err != nil {
			httpError(w, http.StatusConflict, "conflict_error", "an analysis or chat call is in progress, retry shortly")
			return
		}
		defer release()

		r.Body = http.MaxBytesReader(w, r.Body, deps.Storage.MaxUploadBytes())
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			httpError(w, status, "invalid_request_error", "parsing upload: %v", err)
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field %q is required: %v", "video", err)
			return
		}
		defer file.Close()

		filename := sanitizeFilename(header.Filename)
		ext := strings.ToLower(filepath.Ext(filename))
		if !allowedExtensions[ext] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported video type %q", ext)
			return
		}

		videoID := uuid.New().String()
		path := filepath.Join(deps.Storage.UploadDir(), videoID+"_"+filename)
		size, err := saveUpload(path, file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving upload: %v", err)
			return
		}

		meta, err := deps.probe()(r.Context(), path)
		if err != nil {
			removeFiles([]string{path})
			var unreadable *media.UnreadableVideoError
			if errors.As(err, &unreadable) {
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "unreadable video: %s", unreadable.Reason)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "probing upload: %v", err)
			return
		}

		v := storage.Video{
			ID:              videoID,
			Filename:        filename,
			Path:            path,
			SizeBytes:       size,
			FrameRate:       meta.FrameRate,
			DurationSeconds: meta.DurationSeconds,
			Width:           meta.Width,
			Height:          meta.Height,
			UploadedAt:      time.Now().UTC(),
		}
		evicted, err := deps.Sessions.Start(v)
		if err != nil {
			removeFiles([]string{path})
			httpError(w, http.StatusInternalServerError, "api_error", "starting session: %v", err)
			return
		}
		removeFiles(evicted)

		slog.Info("video uploaded", "video_id", videoID, "filename", filename, "duration_s", meta.DurationSeconds)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(uploadResponse{
			VideoID:       videoID,
			Filename:      filename,
			VideoMetadata: metadataPayload(v),
		})
	}
}

// saveUpload streams the multipart part to path, creating the uploads
// directory on first use.
func saveUpload(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

// sanitizeFilename reduces a client-supplied filename to a safe base
// name for the uploads directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// removeFiles deletes upload artifacts, logging rather than failing
// when one is already gone.
func removeFiles(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("removing upload", "path", p, "error", err)
		}
	}
}
