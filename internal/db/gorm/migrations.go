package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: raw signals and video-start events
		{
			ID: "001_signals_video_starts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Signal{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&VideoStart{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("signals", "video_starts")
			},
		},

		// Migration 002: score series and feature rows
		{
			ID: "002_scores_features",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ChangeScore{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Feature{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("change_scores", "features")
			},
		},

		// Migration 003: permanent and active predictions
		{
			ID: "003_predictions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Prediction{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ActivePrediction{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("predictions", "active_predictions")
			},
		},

		// Migration 004: user calibration profiles
		{
			ID: "004_user_profiles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&UserProfile{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("user_profiles")
			},
		},
	})

	return m.Migrate()
}
