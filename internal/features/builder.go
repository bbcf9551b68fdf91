// Package features derives baseline-relative feature records for the classifier.
package features

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/thebtf/opportune/pkg/models"
)

// Not-ready conditions. They are expected while data accumulates and callers
// skip the step.
var (
	ErrNotEnoughSamples = errors.New("no signal samples for step")
	ErrNoBaseline       = errors.New("no baseline samples")
	ErrNoScore          = errors.New("no change-point score for step")
)

// Input carries everything one feature record is built from.
type Input struct {
	StartTime int64
	Segment   []models.SignalSample
	Baseline  []models.SignalSample
	Scores    []models.ScoreRecord
	Valence   int
	Arousal   int
	History   models.PredictionHistory
	VideoID   int
	UserID    string
	SessionID string
}

// Builder compares a segment's first window against the pre-roll baseline.
type Builder struct {
	WindowSize int
}

// NewBuilder returns a builder using windowSize samples of the segment.
func NewBuilder(windowSize int) *Builder {
	return &Builder{WindowSize: windowSize}
}

// Build emits exactly one feature record for the step.
func (b *Builder) Build(in Input) (models.FeatureRecord, error) {
	if len(in.Baseline) == 0 {
		return models.FeatureRecord{}, ErrNoBaseline
	}
	if len(in.Segment) == 0 {
		return models.FeatureRecord{}, ErrNotEnoughSamples
	}
	if len(in.Scores) == 0 {
		return models.FeatureRecord{}, ErrNoScore
	}

	baseGSR, baseHR := means(in.Baseline)

	window := in.Segment
	if b.WindowSize > 0 && len(window) > b.WindowSize {
		window = window[:b.WindowSize]
	}
	curGSR, curHR := means(window)

	return models.FeatureRecord{
		StartTime:     in.StartTime,
		Score:         in.Scores[0].Score,
		GSRDiff:       math.Abs(baseGSR - curGSR),
		HRDiff:        math.Abs(baseHR - curHR),
		PreviousClass: PreviousClass(in.History),
		Valence:       in.Valence,
		Arousal:       in.Arousal,
		VideoID:       in.VideoID,
		UserID:        in.UserID,
		SessionID:     in.SessionID,
	}, nil
}

// PreviousClass is the class predicted for the preceding step. A fresh history
// yields the last seed entry.
func PreviousClass(h models.PredictionHistory) int {
	if c, ok := h.Last(); ok {
		return c
	}
	return models.HistorySeed[len(models.HistorySeed)-1]
}

func means(samples []models.SignalSample) (gsr, hr float64) {
	g, h := models.Columns(samples)
	return stat.Mean(g, nil), stat.Mean(h, nil)
}
