package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// ScoreStore keeps change-point score series keyed by scoring run.
type ScoreStore struct {
	db *gorm.DB
}

// NewScoreStore creates a new score store.
func NewScoreStore(store *Store) *ScoreStore {
	return &ScoreStore{db: store.DB}
}

// SaveScores stores one run's records in a single transaction.
func (s *ScoreStore) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]ChangeScore, len(records))
	for i, r := range records {
		rows[i] = ChangeScore{
			StartTime:    r.StartTime,
			WindowStart:  r.Start,
			WindowBorder: r.Border,
			WindowEnd:    r.End,
			Score:        r.Score,
		}
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// ScoresFor returns the records of the run identified by startTime.
func (s *ScoreStore) ScoresFor(ctx context.Context, startTime int64) ([]models.ScoreRecord, error) {
	var rows []ChangeScore
	err := s.db.WithContext(ctx).
		Where("start_time = ?", startTime).
		Order("window_start ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoreRecord, len(rows))
	for i, r := range rows {
		out[i] = models.ScoreRecord{
			StartTime: r.StartTime,
			Start:     r.WindowStart,
			Border:    r.WindowBorder,
			End:       r.WindowEnd,
			Score:     r.Score,
		}
	}
	return out, nil
}
