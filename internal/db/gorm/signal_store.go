package gorm

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// SignalBatchSize bounds rows per bulk insert.
const SignalBatchSize = 500

// SignalStore provides signal-related database operations using GORM.
type SignalStore struct {
	db *gorm.DB
}

// NewSignalStore creates a new signal store.
func NewSignalStore(store *Store) *SignalStore {
	return &SignalStore{db: store.DB}
}

// SignalContext tags inserted samples with the session they were captured in.
type SignalContext struct {
	UserID    string
	VideoID   int
	SessionID string
}

// InsertSignals bulk inserts samples in arrival order.
func (s *SignalStore) InsertSignals(ctx context.Context, sc SignalContext, samples []models.SignalSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	rows := make([]Signal, len(samples))
	for i, sample := range samples {
		rows[i] = Signal{
			SequenceIndex: sample.SequenceIndex,
			GSR:           sample.GSR,
			HR:            sample.HR,
			Timestamp:     sample.Timestamp,
			WallClock:     sample.WallClock,
			UserID:        sqlNullString(sc.UserID),
			VideoID:       nullInt64(sc.VideoID),
			SessionID:     sqlNullString(sc.SessionID),
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, SignalBatchSize).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Range returns samples with start <= timestamp <= end in arrival order.
// It satisfies signal.Source.
func (s *SignalStore) Range(ctx context.Context, start, end int64) ([]models.SignalSample, error) {
	var rows []Signal
	err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.SignalSample, len(rows))
	for i, r := range rows {
		out[i] = models.SignalSample{
			SequenceIndex: r.SequenceIndex,
			GSR:           r.GSR,
			HR:            r.HR,
			Timestamp:     r.Timestamp,
			WallClock:     r.WallClock,
		}
		if r.VideoID.Valid {
			out[i].VideoID = int(r.VideoID.Int64)
		}
	}
	return out, nil
}

func nullInt64(val int) sql.NullInt64 {
	if val == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(val), Valid: true}
}
