package models

// SignalSample is a single physiological reading from the acquisition device.
type SignalSample struct {
	SequenceIndex int64   `json:"time_series"`
	GSR           float64 `json:"gsr"`
	HR            float64 `json:"hr"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
	WallClock     string  `json:"datetime,omitempty"`
	VideoID       int     `json:"video_id,omitempty"`
}

// ScoreRecord is the change-point divergence between two adjacent windows.
type ScoreRecord struct {
	StartTime int64   `json:"start_time"` // identifies the scoring run
	Start     int64   `json:"start"`
	Border    int64   `json:"border"`
	End       int64   `json:"end"`
	Score     float64 `json:"score"`
}

// Timestamps returns the timestamps of all samples in order.
func Timestamps(samples []SignalSample) []int64 {
	ts := make([]int64, len(samples))
	for i, s := range samples {
		ts[i] = s.Timestamp
	}
	return ts
}

// Columns splits samples into GSR and HR columns.
func Columns(samples []SignalSample) (gsr, hr []float64) {
	gsr = make([]float64, len(samples))
	hr = make([]float64, len(samples))
	for i, s := range samples {
		gsr[i] = s.GSR
		hr[i] = s.HR
	}
	return gsr, hr
}
