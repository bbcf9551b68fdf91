package models

import (
	"database/sql/driver"
	"errors"

	json "github.com/goccy/go-json"
)

// ProfileDims is the length of a user's valence/arousal descriptor.
const ProfileDims = 8

// ProfileVector holds (mean, std) for each of the four score clusters.
type ProfileVector [ProfileDims]float64

// Value implements driver.Valuer for database storage.
func (v ProfileVector) Value() (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (v *ProfileVector) Scan(value interface{}) error {
	if value == nil {
		*v = ProfileVector{}
		return nil
	}
	var data []byte
	switch t := value.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return errors.New("profile vector: unsupported scan type")
	}
	return json.Unmarshal(data, v)
}

// ClusterProfile is the one-time calibration result for a user.
type ClusterProfile struct {
	UserID       string        `json:"user_id"`
	Vector       ProfileVector `json:"vector"`
	Aligned      ProfileVector `json:"aligned"`
	ClusterIndex int           `json:"cluster_index"`
	Fallback     bool          `json:"fallback"`
}
