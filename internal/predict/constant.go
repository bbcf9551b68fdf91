package predict

import (
	"context"
	"fmt"

	"github.com/thebtf/opportune/pkg/models"
)

// ConstantClassifier always predicts the same class. It stands in for the
// trained models when none are installed.
type ConstantClassifier struct {
	Class int
}

// Predict implements Classifier.
func (c ConstantClassifier) Predict(_ context.Context, _ int, _ Block) ([]float32, error) {
	if c.Class < 0 || c.Class >= models.NumClasses {
		return nil, fmt.Errorf("constant class %d out of range", c.Class)
	}
	probs := make([]float32, models.NumClasses)
	probs[c.Class] = 1
	return probs, nil
}
