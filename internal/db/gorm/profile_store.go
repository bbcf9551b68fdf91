package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/opportune/pkg/models"
)

// ProfileStore keeps one calibration profile per user.
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore creates a new profile store.
func NewProfileStore(store *Store) *ProfileStore {
	return &ProfileStore{db: store.DB}
}

// SaveProfile inserts or replaces a user's profile.
func (s *ProfileStore) SaveProfile(ctx context.Context, p models.ClusterProfile) error {
	row := UserProfile{
		UserID:       p.UserID,
		Vector:       p.Vector,
		Aligned:      p.Aligned,
		ClusterIndex: p.ClusterIndex,
		Fallback:     p.Fallback,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "aligned", "cluster_index", "fallback", "updated_at_epoch"}),
	}).Create(&row).Error
}

// GetProfile returns a user's profile, or nil when none is stored.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.ClusterProfile, error) {
	var row UserProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ClusterProfile{
		UserID:       row.UserID,
		Vector:       row.Vector,
		Aligned:      row.Aligned,
		ClusterIndex: row.ClusterIndex,
		Fallback:     row.Fallback,
	}, nil
}
