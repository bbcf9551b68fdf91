package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/opportune/pkg/models"
)

func flat(n int, gsr, hr float64, ts int64) []models.SignalSample {
	out := make([]models.SignalSample, n)
	for i := range out {
		out[i] = models.SignalSample{GSR: gsr, HR: hr, Timestamp: ts + int64(i)*10}
	}
	return out
}

func TestBuild_BaselineDifference(t *testing.T) {
	b := NewBuilder(50)
	rec, err := b.Build(Input{
		StartTime: 5000,
		Segment:   flat(150, 300, 72, 5000),
		Baseline:  flat(40, 250, 80, 0),
		Scores:    []models.ScoreRecord{{Score: 0.7}, {Score: 0.1}},
		Valence:   0,
		Arousal:   1,
		History:   models.NewPredictionHistory(),
		VideoID:   2,
		UserID:    "u1",
		SessionID: "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, 50.0, rec.GSRDiff)
	assert.Equal(t, 8.0, rec.HRDiff)
	assert.Equal(t, 0.7, rec.Score)
	assert.Equal(t, int64(5000), rec.StartTime)
	assert.Equal(t, 0, rec.Valence)
	assert.Equal(t, 1, rec.Arousal)
	assert.Equal(t, 2, rec.VideoID)
	assert.Equal(t, "u1", rec.UserID)
}

func TestBuild_UsesFirstWindowOnly(t *testing.T) {
	seg := append(flat(50, 300, 70, 0), flat(100, 900, 70, 500)...)
	rec, err := NewBuilder(50).Build(Input{
		Segment:  seg,
		Baseline: flat(10, 250, 70, 0),
		Scores:   []models.ScoreRecord{{Score: 1}},
		History:  models.NewPredictionHistory(),
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, rec.GSRDiff)
	assert.Zero(t, rec.HRDiff)
}

func TestBuild_PreviousClass(t *testing.T) {
	in := Input{
		Segment:  flat(60, 1, 1, 0),
		Baseline: flat(5, 1, 1, 0),
		Scores:   []models.ScoreRecord{{Score: 1}},
		History:  models.NewPredictionHistory(),
	}
	b := NewBuilder(50)

	rec, err := b.Build(in)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PreviousClass, "fresh history uses the second seed entry")

	in.History = in.History.Append(0)
	rec, err = b.Build(in)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.PreviousClass)

	assert.Equal(t, 2, PreviousClass(models.HistoryOf()))
}

func TestBuild_NotReady(t *testing.T) {
	ok := Input{
		Segment:  flat(60, 1, 1, 0),
		Baseline: flat(5, 1, 1, 0),
		Scores:   []models.ScoreRecord{{Score: 1}},
	}
	tests := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{"no baseline", func(in *Input) { in.Baseline = nil }, ErrNoBaseline},
		{"no segment", func(in *Input) { in.Segment = nil }, ErrNotEnoughSamples},
		{"no score", func(in *Input) { in.Scores = nil }, ErrNoScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ok
			tt.mutate(&in)
			_, err := NewBuilder(50).Build(in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
