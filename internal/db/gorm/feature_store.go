package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// FeatureStore keeps the per-session feature log.
type FeatureStore struct {
	db *gorm.DB
}

// NewFeatureStore creates a new feature store.
func NewFeatureStore(store *Store) *FeatureStore {
	return &FeatureStore{db: store.DB}
}

// SaveFeature appends one feature row.
func (s *FeatureStore) SaveFeature(ctx context.Context, f models.FeatureRecord) error {
	row := Feature{
		StartTime:      f.StartTime,
		Score:          f.Score,
		GSRDiff:        f.GSRDiff,
		HRDiff:         f.HRDiff,
		PreviousWindow: f.PreviousClass,
		Valence:        f.Valence,
		Arousal:        f.Arousal,
		VideoID:        f.VideoID,
		UserID:         f.UserID,
		SessionID:      f.SessionID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// FeaturesForSession returns a session's rows in insertion order.
func (s *FeatureStore) FeaturesForSession(ctx context.Context, sessionID string) ([]models.FeatureRecord, error) {
	var rows []Feature
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelFeatures(rows), nil
}

// FeaturesForVideo returns every row recorded for a video, oldest first.
func (s *FeatureStore) FeaturesForVideo(ctx context.Context, videoID, limit int) ([]models.FeatureRecord, error) {
	var rows []Feature
	q := s.db.WithContext(ctx).Where("video_id = ?", videoID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelFeatures(rows), nil
}

func toModelFeatures(rows []Feature) []models.FeatureRecord {
	out := make([]models.FeatureRecord, len(rows))
	for i, r := range rows {
		out[i] = models.FeatureRecord{
			StartTime:     r.StartTime,
			Score:         r.Score,
			GSRDiff:       r.GSRDiff,
			HRDiff:        r.HRDiff,
			PreviousClass: r.PreviousWindow,
			Valence:       r.Valence,
			Arousal:       r.Arousal,
			VideoID:       r.VideoID,
			UserID:        r.UserID,
			SessionID:     r.SessionID,
		}
	}
	return out
}
