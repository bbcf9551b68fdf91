package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// PredictionStore keeps the permanent prediction log and the active set.
type PredictionStore struct {
	db *gorm.DB
}

// NewPredictionStore creates a new prediction store.
func NewPredictionStore(store *Store) *PredictionStore {
	return &PredictionStore{db: store.DB}
}

// SavePrediction appends to the permanent log.
func (s *PredictionStore) SavePrediction(ctx context.Context, p models.Prediction) error {
	row := Prediction{
		StartTime: p.StartTime,
		VideoID:   p.VideoID,
		Label:     string(p.Label),
		Class:     p.Class,
		ClusterID: p.ClusterID,
		UserID:    p.UserID,
		SessionID: p.SessionID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// SaveActivePrediction adds a label to the active set.
func (s *PredictionStore) SaveActivePrediction(ctx context.Context, p models.Prediction) error {
	row := ActivePrediction{
		StartTime: p.StartTime,
		VideoID:   p.VideoID,
		Label:     string(p.Label),
		Class:     p.Class,
		UserID:    p.UserID,
		SessionID: p.SessionID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ActivePredictions returns the active set, oldest first. Zero videoID or
// empty userID disables that filter.
func (s *PredictionStore) ActivePredictions(ctx context.Context, videoID int, userID string) ([]models.Prediction, error) {
	var rows []ActivePrediction
	q := s.db.WithContext(ctx).Order("id ASC")
	if videoID != 0 {
		q = q.Where("video_id = ?", videoID)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Prediction, len(rows))
	for i, r := range rows {
		out[i] = models.Prediction{
			StartTime: r.StartTime,
			VideoID:   r.VideoID,
			Label:     models.Label(r.Label),
			Class:     r.Class,
			UserID:    r.UserID,
			SessionID: r.SessionID,
		}
	}
	return out, nil
}

// PredictionsForVideo returns the permanent log of a video, newest first.
func (s *PredictionStore) PredictionsForVideo(ctx context.Context, videoID, limit int) ([]models.Prediction, error) {
	var rows []Prediction
	q := s.db.WithContext(ctx).Where("video_id = ?", videoID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Prediction, len(rows))
	for i, r := range rows {
		out[i] = models.Prediction{
			StartTime: r.StartTime,
			VideoID:   r.VideoID,
			Label:     models.Label(r.Label),
			Class:     r.Class,
			ClusterID: r.ClusterID,
			UserID:    r.UserID,
			SessionID: r.SessionID,
		}
	}
	return out, nil
}

// ClearActivePredictions removes the active set of a video and returns the
// number of rows deleted. Deleting nothing is not an error.
func (s *PredictionStore) ClearActivePredictions(ctx context.Context, videoID int) (int64, error) {
	result := s.db.WithContext(ctx).Where("video_id = ?", videoID).Delete(&ActivePrediction{})
	return result.RowsAffected, result.Error
}
