// Package predict turns the most recent feature records into an opportuneness label.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/thebtf/opportune/pkg/models"
)

// SequenceLength is the number of feature records per prediction.
const SequenceLength = 3

// Block is the classifier input: SequenceLength rows of model features, oldest first.
type Block [SequenceLength][models.FeatureWidth]float32

var (
	// ErrInsufficientHistory means fewer than SequenceLength records were supplied.
	ErrInsufficientHistory = errors.New("not enough feature records")
	// ErrScorer wraps classifier failures and malformed outputs.
	ErrScorer = errors.New("classifier failed")
)

// Classifier maps a feature block to class probabilities using the model
// trained for one population cluster.
type Classifier interface {
	Predict(ctx context.Context, variant int, block Block) ([]float32, error)
}

// Sink persists predictions to the permanent log and the active set.
type Sink interface {
	SavePrediction(ctx context.Context, p models.Prediction) error
	SaveActivePrediction(ctx context.Context, p models.Prediction) error
}

// Request is one prediction call.
type Request struct {
	Records   []models.FeatureRecord
	Variant   int
	StartTime int64
	VideoID   int
	UserID    string
	SessionID string
	History   models.PredictionHistory
}

// Outcome is a successful prediction and the history extended by it.
type Outcome struct {
	Prediction    models.Prediction
	History       models.PredictionHistory
	Probabilities []float32
}

// Predictor wraps a classifier.
type Predictor struct {
	classifier Classifier
	sink       Sink
	logger     zerolog.Logger
}

// New returns a predictor. sink may be nil.
func New(classifier Classifier, sink Sink, logger zerolog.Logger) *Predictor {
	return &Predictor{
		classifier: classifier,
		sink:       sink,
		logger:     logger.With().Str("component", "predictor").Logger(),
	}
}

// Predict classifies the last SequenceLength records of req. On failure the
// request's history is left as it was. Persistence failures are logged and do
// not fail the prediction.
func (p *Predictor) Predict(ctx context.Context, req Request) (Outcome, error) {
	block, err := BuildBlock(req.Records)
	if err != nil {
		return Outcome{}, err
	}

	probs, err := p.classifier.Predict(ctx, req.Variant, block)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrScorer, err)
	}
	class, err := Argmax(probs)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrScorer, err)
	}
	label, err := models.LabelForClass(class)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrScorer, err)
	}

	pred := models.Prediction{
		StartTime: req.StartTime,
		VideoID:   req.VideoID,
		Label:     label,
		Class:     class,
		ClusterID: req.Variant,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	}

	if p.sink != nil {
		if err := p.sink.SavePrediction(ctx, pred); err != nil {
			p.logger.Warn().Err(err).Int64("start_time", pred.StartTime).Msg("Failed to save prediction")
		}
		if err := p.sink.SaveActivePrediction(ctx, pred); err != nil {
			p.logger.Warn().Err(err).Int64("start_time", pred.StartTime).Msg("Failed to save active prediction")
		}
	}

	p.logger.Debug().
		Int64("start_time", pred.StartTime).
		Int("video", pred.VideoID).
		Str("label", string(label)).
		Int("variant", req.Variant).
		Msg("Prediction made")

	return Outcome{
		Prediction:    pred,
		History:       req.History.Append(class),
		Probabilities: probs,
	}, nil
}

// BuildBlock takes the last SequenceLength records, oldest first.
func BuildBlock(records []models.FeatureRecord) (Block, error) {
	var b Block
	if len(records) < SequenceLength {
		return b, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(records), SequenceLength)
	}
	tail := records[len(records)-SequenceLength:]
	for i, r := range tail {
		b[i] = r.Vector()
	}
	return b, nil
}

// Argmax returns the index of the largest probability; ties go to the lowest index.
func Argmax(probs []float32) (int, error) {
	if len(probs) != models.NumClasses {
		return 0, fmt.Errorf("expected %d probabilities, got %d", models.NumClasses, len(probs))
	}
	best := 0
	for i, v := range probs {
		if math.IsNaN(float64(v)) {
			return 0, errors.New("probability is NaN")
		}
		if v > probs[best] {
			best = i
		}
	}
	return best, nil
}
