package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Video is the uploaded recording the active session is bound to.
type Video struct {
	ID              string
	Filename        string
	Path            string
	SizeBytes       int64
	FrameRate       float64
	DurationSeconds float64
	Width           int
	Height          int
	UploadedAt      time.Time
}

// Analysis is one completed model run against the active video.
type Analysis struct {
	ID             string
	VideoID        string
	Prompt         string
	RawText        string
	SpeciesJSON    string // JSON array stored as text
	FramesAnalyzed int
	Model          string
	CreatedAt      time.Time
}

// Turn is one utterance of the follow-up conversation. ID is assigned
// by the database and preserves insertion order.
type Turn struct {
	ID        int64
	VideoID   string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}
