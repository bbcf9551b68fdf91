package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/opportune/pkg/models"
)

// GORM Models

// Signal is one acquisition sample.
type Signal struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	SequenceIndex  int64          `gorm:"column:time_series;not null"`
	GSR            float64        `gorm:"column:gsr;not null"`
	HR             float64        `gorm:"column:hr;not null"`
	Timestamp      int64          `gorm:"index:idx_signals_timestamp;not null"`
	WallClock      string         `gorm:"column:datetime;type:text"`
	UserID         sql.NullString `gorm:"index"`
	VideoID        sql.NullInt64
	SessionID      sql.NullString
	CreatedAtEpoch int64 `gorm:"not null"`
}

func (Signal) TableName() string { return "signals" }

// BeforeCreate hook to ensure timestamps are set.
func (s *Signal) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// VideoStart records that a viewer started a video.
type VideoStart struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Timestamp      int64  `gorm:"index:idx_video_starts_timestamp,sort:desc;not null"`
	VideoID        int    `gorm:"index;not null"`
	UserID         string `gorm:"index;type:text"`
	SessionID      string `gorm:"index;type:text"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (VideoStart) TableName() string { return "video_starts" }

// BeforeCreate hook to ensure timestamps are set.
func (v *VideoStart) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if v.CreatedAtEpoch == 0 {
		v.CreatedAtEpoch = now.UnixMilli()
	}
	if v.CreatedAt == "" {
		v.CreatedAt = now.Format(time.RFC3339)
	}
	return nil
}

// ChangeScore is one window-pair score of a scoring run.
type ChangeScore struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	StartTime    int64   `gorm:"index:idx_change_scores_start_time;not null"`
	WindowStart  int64   `gorm:"not null"`
	WindowBorder int64   `gorm:"not null"`
	WindowEnd    int64   `gorm:"not null"`
	Score        float64 `gorm:"type:real;not null"`
}

func (ChangeScore) TableName() string { return "change_scores" }

// Feature is one derived feature row.
type Feature struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	StartTime      int64   `gorm:"index;not null"`
	Score          float64 `gorm:"type:real"`
	GSRDiff        float64 `gorm:"column:gsr_diff;type:real"`
	HRDiff         float64 `gorm:"column:hr_diff;type:real"`
	PreviousWindow int
	Valence        int
	Arousal        int
	VideoID        int    `gorm:"index;not null"`
	UserID         string `gorm:"index;type:text"`
	SessionID      string `gorm:"index:idx_features_session;type:text"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (Feature) TableName() string { return "features" }

// BeforeCreate hook to ensure timestamps are set.
func (f *Feature) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAtEpoch == 0 {
		f.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// Prediction is the permanent record of a label.
type Prediction struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	StartTime      int64  `gorm:"index;not null"`
	VideoID        int    `gorm:"index;not null"`
	Label          string `gorm:"type:text;check:label IN ('HH', 'HL', 'LH', 'LL');not null"`
	Class          int
	ClusterID      int
	UserID         string `gorm:"index;type:text"`
	SessionID      string `gorm:"index;type:text"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_predictions_created,sort:desc;not null"`
}

func (Prediction) TableName() string { return "predictions" }

// BeforeCreate hook to ensure timestamps are set.
func (p *Prediction) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = now.UnixMilli()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = now.Format(time.RFC3339)
	}
	return nil
}

// ActivePrediction is a label currently shown to the presentation layer.
type ActivePrediction struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	StartTime      int64  `gorm:"not null"`
	VideoID        int    `gorm:"index;not null"`
	Label          string `gorm:"type:text;check:label IN ('HH', 'HL', 'LH', 'LL');not null"`
	Class          int
	UserID         string `gorm:"index;type:text"`
	SessionID      string `gorm:"type:text"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (ActivePrediction) TableName() string { return "active_predictions" }

// BeforeCreate hook to ensure timestamps are set.
func (p *ActivePrediction) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// UserProfile is a user's calibration result.
type UserProfile struct {
	ID             int64                `gorm:"primaryKey;autoIncrement"`
	UserID         string               `gorm:"uniqueIndex;not null"`
	Vector         models.ProfileVector `gorm:"type:text"` // JSON array
	Aligned        models.ProfileVector `gorm:"type:text"` // JSON array
	ClusterIndex   int                  `gorm:"not null"`
	Fallback       bool
	UpdatedAtEpoch int64 `gorm:"not null"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// BeforeSave hook to keep the update time current.
func (p *UserProfile) BeforeSave(tx *gorm.DB) error {
	p.UpdatedAtEpoch = time.Now().UnixMilli()
	return nil
}
