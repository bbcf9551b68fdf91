package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thebtf/opportune/internal/journal"
	"github.com/thebtf/opportune/pkg/models"
)

// Store is the persistent side of the pipeline's outputs.
type Store interface {
	RecordVideoStart(ctx context.Context, v models.VideoStart) error
	SaveScores(ctx context.Context, records []models.ScoreRecord) error
	SaveFeature(ctx context.Context, f models.FeatureRecord) error
	SavePrediction(ctx context.Context, p models.Prediction) error
	SaveActivePrediction(ctx context.Context, p models.Prediction) error
	ClearActivePredictions(ctx context.Context, videoID int) (int64, error)
	SaveProfile(ctx context.Context, p models.ClusterProfile) error
}

// Recorder writes every output to the store and the journal. Store failures
// are logged and never returned; the journal copy still lands. Either side
// may be nil.
type Recorder struct {
	store   Store
	journal *journal.Journal
	logger  zerolog.Logger
}

// NewRecorder returns a dual-writing recorder.
func NewRecorder(store Store, j *journal.Journal, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		journal: j,
		logger:  logger.With().Str("component", "recorder").Logger(),
	}
}

// RecordVideoStart persists a video-start event.
func (r *Recorder) RecordVideoStart(ctx context.Context, v models.VideoStart) error {
	if r.store != nil {
		if err := r.store.RecordVideoStart(ctx, v); err != nil {
			r.logger.Warn().Err(err).Int("video", v.VideoID).Msg("Store write failed for video start")
		}
	}
	return nil
}

// SaveScores persists one scoring run.
func (r *Recorder) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	if r.store != nil {
		if err := r.store.SaveScores(ctx, records); err != nil {
			r.logger.Warn().Err(err).Int64("start_time", records[0].StartTime).Msg("Store write failed for scores")
		}
	}
	if r.journal != nil {
		return r.journal.Scores.Append(records...)
	}
	return nil
}

// SaveFeature persists one feature row.
func (r *Recorder) SaveFeature(ctx context.Context, f models.FeatureRecord) error {
	if r.store != nil {
		if err := r.store.SaveFeature(ctx, f); err != nil {
			r.logger.Warn().Err(err).Int64("start_time", f.StartTime).Msg("Store write failed for feature")
		}
	}
	if r.journal != nil {
		return r.journal.Features.Append(f)
	}
	return nil
}

// SavePrediction appends to the permanent log.
func (r *Recorder) SavePrediction(ctx context.Context, p models.Prediction) error {
	if r.store != nil {
		if err := r.store.SavePrediction(ctx, p); err != nil {
			r.logger.Warn().Err(err).Int64("start_time", p.StartTime).Msg("Store write failed for prediction")
		}
	}
	if r.journal != nil {
		return r.journal.Predictions.Append(p)
	}
	return nil
}

// SaveActivePrediction adds to the presentation set.
func (r *Recorder) SaveActivePrediction(ctx context.Context, p models.Prediction) error {
	if r.store != nil {
		if err := r.store.SaveActivePrediction(ctx, p); err != nil {
			r.logger.Warn().Err(err).Int64("start_time", p.StartTime).Msg("Store write failed for active prediction")
		}
	}
	if r.journal != nil {
		return r.journal.ActivePredictions.Append(p)
	}
	return nil
}

// ClearActive removes a video's active predictions from both sides and
// returns the number removed from the journal, or from the store when there
// is no journal. Clearing an empty set succeeds.
func (r *Recorder) ClearActive(ctx context.Context, videoID int) (int, error) {
	var removed int
	if r.store != nil {
		n, err := r.store.ClearActivePredictions(ctx, videoID)
		if err != nil {
			r.logger.Warn().Err(err).Int("video", videoID).Msg("Store clear failed for active predictions")
		}
		removed = int(n)
	}
	if r.journal != nil {
		n, err := r.journal.ClearActive(videoID)
		if err != nil {
			return 0, err
		}
		removed = n
	}
	return removed, nil
}

// SaveProfile persists a calibration result.
func (r *Recorder) SaveProfile(ctx context.Context, p models.ClusterProfile) error {
	if r.store != nil {
		if err := r.store.SaveProfile(ctx, p); err != nil {
			r.logger.Warn().Err(err).Str("user", p.UserID).Msg("Store write failed for profile")
		}
	}
	return nil
}
