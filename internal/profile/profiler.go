// Package profile assigns a user to a pretrained population cluster from the
// change-point scores of the calibration video.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/thebtf/opportune/internal/changepoint"
	"github.com/thebtf/opportune/pkg/models"
	"github.com/thebtf/opportune/pkg/similarity"
)

// NumGroups is the number of score clusters per user.
const NumGroups = 4

// ReferenceCentroids are the population cluster centres, as (mean, std) pairs
// in the same layout as a user vector.
var ReferenceCentroids = [][]float64{
	{0.13223871, 0.1163289, 0.12379743, 0.10381793, 0.13483915, 0.12861226, 0.13613065, 0.12001119},
	{0.32451873, 0.2192287, 0.36434825, 0.22801673, 0.35199746, 0.21530797, 0.31286902, 0.20634948},
}

// ErrNoScores is returned when the calibration video produced no scores.
var ErrNoScores = errors.New("no change-point scores")

// Scorer produces the score series for a segment.
type Scorer interface {
	Score(ctx context.Context, startTime int64, segment []models.SignalSample) ([]models.ScoreRecord, error)
}

// Profiler builds cluster profiles.
type Profiler struct {
	scorer    Scorer
	centroids [][]float64
	logger    zerolog.Logger
}

// New returns a profiler using the reference centroids.
func New(scorer Scorer, logger zerolog.Logger) *Profiler {
	return &Profiler{
		scorer:    scorer,
		centroids: ReferenceCentroids,
		logger:    logger.With().Str("component", "profiler").Logger(),
	}
}

// Result is a profile together with the scores it was derived from.
type Result struct {
	Profile models.ClusterProfile
	Scores  []models.ScoreRecord
}

// Profile scores the calibration segment and assigns a cluster. It never fails:
// any error yields cluster 0 with Fallback set, and the cause is logged.
func (p *Profiler) Profile(ctx context.Context, userID string, startTime int64, segment []models.SignalSample) Result {
	scores, err := p.scorer.Score(ctx, startTime, segment)
	if err != nil {
		p.logger.Warn().Err(err).Str("user", userID).Msg("Scoring calibration video failed, using cluster 0")
		return Result{Profile: fallback(userID)}
	}

	prof, err := p.FromScores(userID, scores)
	if err != nil {
		p.logger.Warn().Err(err).Str("user", userID).Int("scores", len(scores)).Msg("Profiling failed, using cluster 0")
		return Result{Profile: fallback(userID), Scores: scores}
	}

	p.logger.Info().
		Str("user", userID).
		Int("cluster", prof.ClusterIndex).
		Floats64("vector", prof.Vector[:]).
		Msg("User profiled")
	return Result{Profile: prof, Scores: scores}
}

// FromScores clusters the scores and matches the user vector to the nearest
// reference centroid.
func (p *Profiler) FromScores(userID string, scores []models.ScoreRecord) (models.ClusterProfile, error) {
	if len(scores) == 0 {
		return models.ClusterProfile{}, ErrNoScores
	}
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.Score
	}

	vector, err := UserVector(values)
	if err != nil {
		return models.ClusterProfile{}, err
	}
	aligned, err := p.Align(vector)
	if err != nil {
		return models.ClusterProfile{}, err
	}
	idx, _ := similarity.Nearest(aligned[:], p.centroids)
	if idx < 0 {
		return models.ClusterProfile{}, errors.New("no reference centroids")
	}

	return models.ClusterProfile{
		UserID:       userID,
		Vector:       vector,
		Aligned:      aligned,
		ClusterIndex: idx,
	}, nil
}

// UserVector returns (mean, std) for each of the four k-means groups of values.
func UserVector(values []float64) (models.ProfileVector, error) {
	labels, centers, err := similarity.KMeans1D(values, NumGroups)
	if err != nil {
		return models.ProfileVector{}, fmt.Errorf("cluster scores: %w", err)
	}
	means, stds := similarity.GroupStats(values, labels, NumGroups, centers)

	var v models.ProfileVector
	for g := 0; g < NumGroups; g++ {
		v[2*g] = means[g]
		v[2*g+1] = stds[g]
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return models.ProfileVector{}, errors.New("user vector is not finite")
		}
	}
	return v, nil
}

// Align reorders the user's (mean, std) pairs into the reference layout,
// claiming each reference position at most once.
func (p *Profiler) Align(v models.ProfileVector) (models.ProfileVector, error) {
	pairs := make([]similarity.Pair, NumGroups)
	for g := range pairs {
		pairs[g] = similarity.Pair{v[2*g], v[2*g+1]}
	}
	refs := make([][]similarity.Pair, len(p.centroids))
	for c, centroid := range p.centroids {
		for s := 0; s+1 < len(centroid); s += 2 {
			refs[c] = append(refs[c], similarity.Pair{centroid[s], centroid[s+1]})
		}
	}

	slots := similarity.AssignSlots(pairs, refs)
	var aligned models.ProfileVector
	for g, s := range slots {
		if s < 0 || s >= NumGroups {
			return models.ProfileVector{}, fmt.Errorf("group %d has no free reference position", g)
		}
		aligned[2*s] = pairs[g][0]
		aligned[2*s+1] = pairs[g][1]
	}
	return aligned, nil
}

func fallback(userID string) models.ClusterProfile {
	return models.ClusterProfile{UserID: userID, ClusterIndex: 0, Fallback: true}
}

var _ Scorer = (*changepoint.Scorer)(nil)
