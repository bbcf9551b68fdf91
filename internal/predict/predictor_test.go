package predict

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/opportune/pkg/models"
)

type fakeClassifier struct {
	probs   []float32
	err     error
	variant int
	block   Block
	calls   int
}

func (f *fakeClassifier) Predict(_ context.Context, variant int, block Block) ([]float32, error) {
	f.calls++
	f.variant = variant
	f.block = block
	return f.probs, f.err
}

type memorySink struct {
	mu        sync.Mutex
	permanent []models.Prediction
	active    []models.Prediction
	err       error
}

func (m *memorySink) SavePrediction(_ context.Context, p models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permanent = append(m.permanent, p)
	return m.err
}

func (m *memorySink) SaveActivePrediction(_ context.Context, p models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, p)
	return m.err
}

func rows(n int) []models.FeatureRecord {
	out := make([]models.FeatureRecord, n)
	for i := range out {
		out[i] = models.FeatureRecord{
			StartTime:     int64(i) * 5000,
			Score:         float64(i) + 0.5,
			GSRDiff:       10,
			HRDiff:        2,
			PreviousClass: 2,
			Valence:       0,
			Arousal:       1,
			VideoID:       2,
		}
	}
	return out
}

func TestPredict_ClassTwoIsLH(t *testing.T) {
	clf := &fakeClassifier{probs: []float32{0.1, 0.2, 0.6, 0.1}}
	sink := &memorySink{}
	p := New(clf, sink, zerolog.Nop())

	history := models.NewPredictionHistory()
	out, err := p.Predict(context.Background(), Request{
		Records:   rows(3),
		Variant:   1,
		StartTime: 15000,
		VideoID:   2,
		UserID:    "u1",
		SessionID: "s1",
		History:   history,
	})
	require.NoError(t, err)

	assert.Equal(t, models.LabelLH, out.Prediction.Label)
	assert.Equal(t, 2, out.Prediction.Class)
	assert.Equal(t, 1, out.Prediction.ClusterID)
	assert.Equal(t, []int{3, 2, 2}, out.History.Classes())
	assert.Equal(t, []int{3, 2}, history.Classes(), "input history is not mutated")

	require.Len(t, sink.active, 1)
	assert.Equal(t, models.LabelLH, sink.active[0].Label)
	require.Len(t, sink.permanent, 1)
	assert.Equal(t, 1, clf.variant)
}

func TestPredict_UsesLastThreeOldestFirst(t *testing.T) {
	clf := &fakeClassifier{probs: []float32{1, 0, 0, 0}}
	p := New(clf, nil, zerolog.Nop())

	_, err := p.Predict(context.Background(), Request{Records: rows(5), History: models.NewPredictionHistory()})
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), clf.block[0][0])
	assert.Equal(t, float32(4.5), clf.block[2][0])
	assert.Equal(t, [models.FeatureWidth]float32{4.5, 10, 2, 2, 0, 1}, clf.block[2])
}

func TestPredict_InsufficientHistory(t *testing.T) {
	clf := &fakeClassifier{probs: []float32{1, 0, 0, 0}}
	p := New(clf, nil, zerolog.Nop())

	_, err := p.Predict(context.Background(), Request{Records: rows(2)})
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	assert.Zero(t, clf.calls)
}

func TestPredict_ClassifierFailure(t *testing.T) {
	tests := []struct {
		name string
		clf  *fakeClassifier
	}{
		{"error", &fakeClassifier{err: errors.New("model crashed")}},
		{"wrong width", &fakeClassifier{probs: []float32{0.5, 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memorySink{}
			_, err := New(tt.clf, sink, zerolog.Nop()).Predict(context.Background(), Request{
				Records: rows(3),
				History: models.NewPredictionHistory(),
			})
			assert.ErrorIs(t, err, ErrScorer)
			assert.Empty(t, sink.active)
		})
	}
}

func TestPredict_SinkErrorIsNotFatal(t *testing.T) {
	clf := &fakeClassifier{probs: []float32{0, 0, 0, 1}}
	sink := &memorySink{err: errors.New("store down")}

	out, err := New(clf, sink, zerolog.Nop()).Predict(context.Background(), Request{
		Records: rows(3),
		History: models.NewPredictionHistory(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LabelLL, out.Prediction.Label)
	assert.Equal(t, 3, out.History.Len())
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name  string
		probs []float32
		want  int
		err   bool
	}{
		{"clear winner", []float32{0.1, 0.7, 0.1, 0.1}, 1, false},
		{"tie picks lowest", []float32{0.4, 0.1, 0.4, 0.1}, 0, false},
		{"all equal", []float32{0.25, 0.25, 0.25, 0.25}, 0, false},
		{"too short", []float32{1}, 0, true},
		{"nan", []float32{0.1, float32NaN(), 0.2, 0.3}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Argmax(tt.probs)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func float32NaN() float32 {
	var zero float32
	return zero / zero
}

func TestConstantClassifier(t *testing.T) {
	probs, err := ConstantClassifier{Class: 1}.Predict(context.Background(), 0, Block{})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, probs)

	_, err = ConstantClassifier{Class: 7}.Predict(context.Background(), 0, Block{})
	assert.Error(t, err)
}

func TestHTTPClassifier(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(httpResponse{Probabilities: []float32{0, 0, 1, 0}})
	}))
	defer srv.Close()

	var block Block
	block[2][0] = 9
	probs, err := NewHTTPClassifier(srv.URL).Predict(context.Background(), 1, block)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, probs)
	assert.Equal(t, 1, got.Variant)
	require.Len(t, got.Features, SequenceLength)
	assert.Equal(t, float32(9), got.Features[2][0])
}

func TestHTTPClassifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"no model"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL).Predict(context.Background(), 0, Block{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model")
}
