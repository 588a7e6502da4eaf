// Package session tracks the single active video and its conversation.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wildscope/wildscope/internal/storage"
)

// ErrNoSession is returned when an operation needs an active video and
// none has been uploaded.
var ErrNoSession = errors.New("no active session")

// ErrCallInFlight is returned when an analysis or follow-up is already
// running for the session.
var ErrCallInFlight = errors.New("another call is already in flight")

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	ReplaceSession(v storage.Video) ([]string, error)
	ClearSession() ([]string, error)
	ActiveVideo() (storage.Video, error)
	SaveAnalysis(a storage.Analysis) error
	LatestAnalysis(videoID string) (storage.Analysis, error)
	AppendTurn(t storage.Turn) error
	ListTurns(videoID string) ([]storage.Turn, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager guards the active session: at most one video at a time, its
// analyses and follow-up turns, and a single in-flight provider call.
type Manager struct {
	store Store
	clock Clock

	mu     sync.RWMutex
	active *storage.Video

	inFlight atomic.Bool
}

// NewManager creates a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, clock: realClock{}}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock) *Manager {
	return &Manager{store: store, clock: clock}
}

// BeginCall reserves the session's single in-flight call slot. It
// returns a release func on success and ErrCallInFlight when another
// call holds the slot.
func (m *Manager) BeginCall() (func(), error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil, ErrCallInFlight
	}
	return func() { m.inFlight.Store(false) }, nil
}

// Start binds the session to a freshly uploaded video, replacing any
// prior session. It returns the upload paths of evicted videos so the
// caller can remove the files.
func (m *Manager) Start(v storage.Video) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, err := m.store.ReplaceSession(v)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	m.active = &v
	return removed, nil
}

// Active returns the video the session is bound to, loading it from
// storage on first use so a restarted daemon picks its session back up.
func (m *Manager) Active() (storage.Video, error) {
	m.mu.RLock()
	if m.active != nil {
		v := *m.active
		m.mu.RUnlock()
		return v, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return *m.active, nil
	}
	v, err := m.store.ActiveVideo()
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Video{}, ErrNoSession
	}
	if err != nil {
		return storage.Video{}, fmt.Errorf("loading active video: %w", err)
	}
	m.active = &v
	return v, nil
}

// End tears the session down and returns the upload paths of removed
// videos so the caller can delete the files.
func (m *Manager) End() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, err := m.store.ClearSession()
	if err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}
	m.active = nil
	return removed, nil
}

// AppendTurn records one conversation utterance for the active video.
func (m *Manager) AppendTurn(role, content string) error {
	v, err := m.Active()
	if err != nil {
		return err
	}
	if err := m.store.AppendTurn(storage.Turn{
		VideoID:   v.ID,
		Role:      role,
		Content:   content,
		CreatedAt: m.clock.Now(),
	}); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// History returns the conversation so far, oldest first.
func (m *Manager) History() ([]storage.Turn, error) {
	v, err := m.Active()
	if err != nil {
		return nil, err
	}
	turns, err := m.store.ListTurns(v.ID)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	return turns, nil
}

// SaveResult persists a completed analysis. The caller sets VideoID;
// CreatedAt is filled in when zero.
func (m *Manager) SaveResult(a storage.Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.clock.Now()
	}
	if err := m.store.SaveAnalysis(a); err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

// LatestResult returns the newest analysis for the active video.
// Returns storage.ErrNotFound when the video has not been analyzed yet.
func (m *Manager) LatestResult() (storage.Analysis, error) {
	v, err := m.Active()
	if err != nil {
		return storage.Analysis{}, err
	}
	return m.store.LatestAnalysis(v.ID)
}
