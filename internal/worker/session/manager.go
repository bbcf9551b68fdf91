// Package session provides the registry of video sessions and per-user
// classifier assignments.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/opportune/pkg/models"
)

// DefaultRetention is how long a terminal session stays queryable.
const DefaultRetention = 5 * time.Minute

var (
	// ErrVideoProcessing is returned when a session for the video is already running.
	ErrVideoProcessing = errors.New("video is already being processed")
	// ErrDuplicateSession is returned when the session id is taken.
	ErrDuplicateSession = errors.New("session already exists")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// ActiveSession is a registered session and the handle of its pipeline.
type ActiveSession struct {
	models.Session
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

// Context returns the session's context. It is cancelled on stop and on shutdown.
func (s *ActiveSession) Context() context.Context { return s.ctx }

// Manager owns the session table and the user -> classifier variant map.
// Every read-modify-write happens under mu.
type Manager struct {
	sessions  map[string]*ActiveSession
	profiles  map[string]int
	ctx       context.Context
	cancel    context.CancelFunc
	onCreated func(models.Session)
	onUpdated func(models.Session)
	onDeleted func(id string)
	now       func() time.Time
	retention time.Duration
	mu        sync.RWMutex
}

// NewManager creates a registry. Terminal sessions are removed after retention.
func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:  make(map[string]*ActiveSession),
		profiles:  make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		retention: retention,
	}
}

// SetOnSessionCreated sets the callback for session creation.
func (m *Manager) SetOnSessionCreated(fn func(models.Session)) {
	m.mu.Lock()
	m.onCreated = fn
	m.mu.Unlock()
}

// SetOnSessionUpdated sets the callback for status changes.
func (m *Manager) SetOnSessionUpdated(fn func(models.Session)) {
	m.mu.Lock()
	m.onUpdated = fn
	m.mu.Unlock()
}

// SetOnSessionDeleted sets the callback for session deletion.
func (m *Manager) SetOnSessionDeleted(fn func(id string)) {
	m.mu.Lock()
	m.onDeleted = fn
	m.mu.Unlock()
}

// Create registers sess in the initializing state. It fails when another
// non-terminal session is running the same video.
func (m *Manager) Create(sess models.Session) (*ActiveSession, error) {
	m.mu.Lock()
	if _, ok := m.sessions[sess.SessionID]; ok {
		m.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	if m.videoProcessingLocked(sess.VideoID) {
		m.mu.Unlock()
		return nil, ErrVideoProcessing
	}

	now := m.now()
	sess.Status = models.SessionStatusInitializing
	sess.StartedAt = now
	sess.UpdatedAt = now
	ctx, cancel := context.WithCancel(m.ctx)
	active := &ActiveSession{Session: sess, ctx: ctx, cancel: cancel}
	m.sessions[sess.SessionID] = active
	onCreated := m.onCreated
	m.mu.Unlock()

	log.Info().
		Str("sessionId", sess.SessionID).
		Str("user", sess.UserID).
		Int("video", sess.VideoID).
		Msg("Session created")

	if onCreated != nil {
		onCreated(sess)
	}
	return active, nil
}

// Update moves a session to status. Terminal sessions never change again;
// the return value reports whether the update was applied.
func (m *Manager) Update(id string, status models.SessionStatus, detail string) bool {
	m.mu.Lock()
	active, ok := m.sessions[id]
	if !ok || active.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	active.Status = status
	active.ErrorDetail = detail
	active.UpdatedAt = m.now()
	if status.IsTerminal() {
		active.timer = time.AfterFunc(m.retention, func() { m.Remove(id) })
	}
	snapshot := active.Session
	onUpdated := m.onUpdated
	m.mu.Unlock()

	log.Info().
		Str("sessionId", id).
		Str("status", string(status)).
		Str("detail", detail).
		Msg("Session status changed")

	if onUpdated != nil {
		onUpdated(snapshot)
	}
	return true
}

// Stop marks a session stopped and cancels its context. The pipeline exits at
// its next wait point.
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	active, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.Update(id, models.SessionStatusStopped, "")
	active.cancel()
	return nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active, ok := m.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return active.Session, true
}

// Status returns the current status of a session.
func (m *Manager) Status(id string) (models.SessionStatus, bool) {
	sess, ok := m.Get(id)
	return sess.Status, ok
}

// Remove deletes a session immediately.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	active, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	if active.timer != nil {
		active.timer.Stop()
	}
	onDeleted := m.onDeleted
	m.mu.Unlock()

	active.cancel()
	log.Debug().Str("sessionId", id).Msg("Session removed")

	if onDeleted != nil {
		onDeleted(id)
	}
}

// IsVideoProcessing reports whether a non-terminal session runs videoID.
func (m *Manager) IsVideoProcessing(videoID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videoProcessingLocked(videoID)
}

func (m *Manager) videoProcessingLocked(videoID int) bool {
	for _, s := range m.sessions {
		if s.VideoID == videoID && !s.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// GetActiveSessionCount returns the number of registered sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns snapshots of every registered session, oldest first.
func (m *Manager) GetAllSessions() []models.Session {
	m.mu.RLock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Session)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveSessions returns the sessions that have not reached a terminal state.
func (m *Manager) ActiveSessions() []models.Session {
	all := m.GetAllSessions()
	out := all[:0]
	for _, s := range all {
		if !s.Status.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// SetProfile records the classifier variant assigned to a user.
func (m *Manager) SetProfile(userID string, variant int) {
	m.mu.Lock()
	m.profiles[userID] = variant
	m.mu.Unlock()
}

// Profile returns the classifier variant assigned to a user.
func (m *Manager) Profile(userID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.profiles[userID]
	return v, ok
}

// Shutdown cancels every session context and clears the table.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}
