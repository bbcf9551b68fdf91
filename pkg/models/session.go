// Package models contains domain models for opportune.
package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a video session.
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusProcessing   SessionStatus = "processing"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusError        SessionStatus = "error"
	SessionStatusStopped      SessionStatus = "stopped"
)

// IsTerminal reports whether no further pipeline transitions follow this status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusError, SessionStatusStopped:
		return true
	}
	return false
}

// Session is one viewer watching one video, tracked while its pipeline runs.
type Session struct {
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	VideoID        int           `json:"video_id"`
	StartTimestamp int64         `json:"timestamp"`
	Status         SessionStatus `json:"status"`
	ErrorDetail    string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// VideoStart is the persisted record of a video-start event.
type VideoStart struct {
	Timestamp int64     `json:"timestamp"`
	VideoID   int       `json:"video_id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
