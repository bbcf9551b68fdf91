package changepoint

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/thebtf/opportune/pkg/models"
)

// DefaultWindowSize is the number of samples per window.
const DefaultWindowSize = 50

// Scorer computes symmetric divergence scores over consecutive window pairs.
// It holds no state between calls.
type Scorer struct {
	WindowSize  int
	Estimator   Estimator
	Concurrency int
}

// NewScorer returns a scorer using RuLSIF with alpha 0.1.
func NewScorer(windowSize int) *Scorer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Scorer{
		WindowSize:  windowSize,
		Estimator:   NewRuLSIF(DefaultAlpha),
		Concurrency: runtime.GOMAXPROCS(0),
	}
}

// Score walks the segment in steps of WindowSize while a full pair of windows
// fits, and emits one record per pair. Trailing samples that do not fill a pair
// are dropped. A segment shorter than two windows yields an empty result.
//
// Record timestamps come from indices i, i+w and i+2w; when i+2w is past the
// last sample the last sample's timestamp is used as the end.
func (s *Scorer) Score(ctx context.Context, startTime int64, segment []models.SignalSample) ([]models.ScoreRecord, error) {
	w := s.WindowSize
	if w <= 1 {
		return nil, fmt.Errorf("window size %d too small", w)
	}
	n := len(segment)
	if n < 2*w {
		return []models.ScoreRecord{}, nil
	}

	pairs := (n-2*w)/w + 1
	records := make([]models.ScoreRecord, pairs)

	g, ctx := errgroup.WithContext(ctx)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for p := 0; p < pairs; p++ {
		p := p
		i := p * w
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x := windowMatrix(segment[i : i+w])
			y := windowMatrix(segment[i+w : i+2*w])

			total, err := s.symmetric(x, y)
			if err != nil {
				return fmt.Errorf("window at %d: %w", i, err)
			}

			end := i + 2*w
			if end >= n {
				end = n - 1
			}
			records[p] = models.ScoreRecord{
				StartTime: startTime,
				Start:     segment[i].Timestamp,
				Border:    segment[i+w].Timestamp,
				End:       segment[end].Timestamp,
				Score:     total,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Scorer) symmetric(x, y *mat.Dense) (float64, error) {
	xy, err := s.Estimator.Divergence(x, y)
	if err != nil {
		return 0, err
	}
	yx, err := s.Estimator.Divergence(y, x)
	if err != nil {
		return 0, err
	}
	return math.Abs(xy) + math.Abs(yx), nil
}

// windowMatrix returns an n x 2 matrix of (GSR, HR) rows.
func windowMatrix(samples []models.SignalSample) *mat.Dense {
	m := mat.NewDense(len(samples), 2, nil)
	for i, s := range samples {
		m.Set(i, 0, s.GSR)
		m.Set(i, 1, s.HR)
	}
	return m
}
