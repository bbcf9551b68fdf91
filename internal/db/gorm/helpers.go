package gorm

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
)

// Stats holds row counts per table.
type Stats struct {
	Signals           int64 `json:"signals"`
	VideoStarts       int64 `json:"video_starts"`
	ChangeScores      int64 `json:"change_scores"`
	Features          int64 `json:"features"`
	Predictions       int64 `json:"predictions"`
	ActivePredictions int64 `json:"active_predictions"`
	UserProfiles      int64 `json:"user_profiles"`
}

// GetStats counts the rows of every collection.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		model any
		dst   *int64
	}{
		{&Signal{}, &st.Signals},
		{&VideoStart{}, &st.VideoStarts},
		{&ChangeScore{}, &st.ChangeScores},
		{&Feature{}, &st.Features},
		{&Prediction{}, &st.Predictions},
		{&ActivePrediction{}, &st.ActivePredictions},
		{&UserProfile{}, &st.UserProfiles},
	}
	for _, c := range counts {
		if err := s.DB.WithContext(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// ParseLimitParam parses the "limit" query parameter from an HTTP request.
// Returns defaultLimit if the parameter is missing or invalid.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}
