package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelForClass(t *testing.T) {
	tests := []struct {
		class    int
		expected Label
		wantErr  bool
	}{
		{class: 0, expected: LabelHH},
		{class: 1, expected: LabelHL},
		{class: 2, expected: LabelLH},
		{class: 3, expected: LabelLL},
		{class: 4, wantErr: true},
		{class: -1, wantErr: true},
	}

	for _, tt := range tests {
		label, err := LabelForClass(tt.class)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, label)
	}
}

func TestPredictionHistory_Seed(t *testing.T) {
	h := NewPredictionHistory()

	assert.Equal(t, []int{3, 2}, h.Classes())
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 0, h.Predicted())

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last)
}

func TestPredictionHistory_AppendIsValue(t *testing.T) {
	h := NewPredictionHistory()
	h2 := h.Append(1)

	assert.Equal(t, 2, h.Len(), "original history must not change")
	assert.Equal(t, []int{3, 2, 1}, h2.Classes())
	assert.Equal(t, 1, h2.Predicted())

	// Appending to the same base twice must not alias.
	a := h.Append(0)
	b := h.Append(3)
	assert.Equal(t, []int{3, 2, 0}, a.Classes())
	assert.Equal(t, []int{3, 2, 3}, b.Classes())
}

func TestPredictionHistory_Empty(t *testing.T) {
	var h PredictionHistory
	_, ok := h.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Predicted())
}

func TestFeatureRecord_Vector(t *testing.T) {
	f := FeatureRecord{Score: 0.5, GSRDiff: 50, HRDiff: 2, PreviousClass: 2, Valence: 0, Arousal: 1}
	assert.Equal(t, [FeatureWidth]float32{0.5, 50, 2, 2, 0, 1}, f.Vector())
}

func TestProfileVector_ScanValue(t *testing.T) {
	v := ProfileVector{1, 2, 3, 4, 5, 6, 7, 8}
	raw, err := v.Value()
	require.NoError(t, err)

	var out ProfileVector
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, v, out)

	require.NoError(t, out.Scan([]byte("[0,0,0,0,0,0,0,1]")))
	assert.Equal(t, 1.0, out[7])

	require.NoError(t, out.Scan(nil))
	assert.Equal(t, ProfileVector{}, out)

	assert.Error(t, out.Scan(42))
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, SessionStatusInitializing.IsTerminal())
	assert.False(t, SessionStatusProcessing.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusError.IsTerminal())
	assert.True(t, SessionStatusStopped.IsTerminal())
}
