package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// VideoStartStore records video-start events.
type VideoStartStore struct {
	db *gorm.DB
}

// NewVideoStartStore creates a new video-start store.
func NewVideoStartStore(store *Store) *VideoStartStore {
	return &VideoStartStore{db: store.DB}
}

// RecordVideoStart persists a video-start event.
func (s *VideoStartStore) RecordVideoStart(ctx context.Context, v models.VideoStart) error {
	row := VideoStart{
		Timestamp: v.Timestamp,
		VideoID:   v.VideoID,
		UserID:    v.UserID,
		SessionID: v.SessionID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// LatestVideoStart returns the most recent event, or nil when there is none.
func (s *VideoStartStore) LatestVideoStart(ctx context.Context) (*models.VideoStart, error) {
	var row VideoStart
	err := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelVideoStart(&row), nil
}

// VideoStartsForUser returns a user's events, oldest first.
func (s *VideoStartStore) VideoStartsForUser(ctx context.Context, userID string) ([]*models.VideoStart, error) {
	var rows []VideoStart
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.VideoStart, len(rows))
	for i := range rows {
		out[i] = toModelVideoStart(&rows[i])
	}
	return out, nil
}

func toModelVideoStart(v *VideoStart) *models.VideoStart {
	return &models.VideoStart{
		Timestamp: v.Timestamp,
		VideoID:   v.VideoID,
		UserID:    v.UserID,
		SessionID: v.SessionID,
		CreatedAt: time.UnixMilli(v.CreatedAtEpoch),
	}
}
