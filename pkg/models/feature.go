package models

import "fmt"

// Label is one of the four opportuneness classes (valence x arousal).
type Label string

const (
	LabelHH Label = "HH"
	LabelHL Label = "HL"
	LabelLH Label = "LH"
	LabelLL Label = "LL"
)

// Labels maps classifier output indices to labels.
var Labels = [...]Label{LabelHH, LabelHL, LabelLH, LabelLL}

// NumClasses is the number of opportuneness classes.
const NumClasses = len(Labels)

// LabelForClass returns the label for a class index.
func LabelForClass(class int) (Label, error) {
	if class < 0 || class >= NumClasses {
		return "", fmt.Errorf("class index %d out of range", class)
	}
	return Labels[class], nil
}

// FeatureRecord is one 5-second step of derived features.
type FeatureRecord struct {
	StartTime     int64   `json:"start_time"`
	Score         float64 `json:"score"`
	GSRDiff       float64 `json:"gsr_diff"`
	HRDiff        float64 `json:"hr_diff"`
	PreviousClass int     `json:"previous_window"`
	Valence       int     `json:"valence"`
	Arousal       int     `json:"arousal"`
	VideoID       int     `json:"video_id"`
	UserID        string  `json:"user_id,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
}

// FeatureWidth is the number of model inputs per record.
const FeatureWidth = 6

// Vector returns the six model inputs in the order the classifier was trained on.
func (f FeatureRecord) Vector() [FeatureWidth]float32 {
	return [FeatureWidth]float32{
		float32(f.Score),
		float32(f.GSRDiff),
		float32(f.HRDiff),
		float32(f.PreviousClass),
		float32(f.Valence),
		float32(f.Arousal),
	}
}

// Prediction is a labelled opportuneness decision for one step.
type Prediction struct {
	StartTime int64  `json:"starttime"`
	VideoID   int    `json:"video_no"`
	Label     Label  `json:"probe"`
	Class     int    `json:"class"`
	ClusterID int    `json:"cluster_id"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HistorySeed is the pair of sentinel classes a fresh history starts with.
var HistorySeed = [2]int{3, 2}

// PredictionHistory is the ordered list of classes predicted in one session.
// It is a value: Append returns a new history and never mutates the receiver.
type PredictionHistory struct {
	classes []int
}

// NewPredictionHistory returns a history seeded with the sentinel pair.
func NewPredictionHistory() PredictionHistory {
	return HistoryOf(HistorySeed[0], HistorySeed[1])
}

// HistoryOf builds a history from explicit classes.
func HistoryOf(classes ...int) PredictionHistory {
	c := make([]int, len(classes))
	copy(c, classes)
	return PredictionHistory{classes: c}
}

// Append returns a copy of h with class appended.
func (h PredictionHistory) Append(class int) PredictionHistory {
	c := make([]int, len(h.classes), len(h.classes)+1)
	copy(c, h.classes)
	return PredictionHistory{classes: append(c, class)}
}

// Last returns the most recent class, or ok=false when the history is empty.
func (h PredictionHistory) Last() (class int, ok bool) {
	if len(h.classes) == 0 {
		return 0, false
	}
	return h.classes[len(h.classes)-1], true
}

// Len returns the number of entries including the seed.
func (h PredictionHistory) Len() int { return len(h.classes) }

// Predicted returns the number of entries added after the seed.
func (h PredictionHistory) Predicted() int {
	if n := len(h.classes) - len(HistorySeed); n > 0 {
		return n
	}
	return 0
}

// Classes returns a copy of the entries.
func (h PredictionHistory) Classes() []int {
	c := make([]int, len(h.classes))
	copy(c, h.classes)
	return c
}
