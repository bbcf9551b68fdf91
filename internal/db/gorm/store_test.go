package gorm

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/opportune/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Ping())
	assert.Equal(t, DriverSQLite, store.Driver())

	// Verify WAL mode is enabled
	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	tables := []string{
		"signals",
		"video_starts",
		"change_scores",
		"features",
		"predictions",
		"active_predictions",
		"user_profiles",
	}
	for _, table := range tables {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
}

func TestNewStore_PragmasOnEveryConnection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Hold all four pooled connections at once so each one is a distinct handle.
	conns := make([]*sql.Conn, 0, 4)
	t.Cleanup(func() {
		for _, c := range conns {
			_ = c.Close()
		}
	})
	for i := 0; i < 4; i++ {
		c, err := store.sqlDB.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}

	for i, c := range conns {
		var timeout, synchronous, foreignKeys int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&synchronous))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 5000, timeout, "connection %d", i)
		assert.Equal(t, 1, synchronous, "connection %d should be NORMAL", i)
		assert.Equal(t, 1, foreignKeys, "connection %d", i)
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"/tmp/x.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		sqliteDSN("/tmp/x.db"))
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := Config{Path: path, LogLevel: logger.Silent}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	var count int64
	require.NoError(t, store2.DB.Raw("SELECT COUNT(*) FROM migrations").Scan(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSignalStore_InsertAndRange(t *testing.T) {
	ctx := context.Background()
	signals := NewSignalStore(newTestStore(t))

	samples := make([]models.SignalSample, 10)
	for i := range samples {
		samples[i] = models.SignalSample{
			SequenceIndex: int64(i),
			GSR:           float64(100 + i),
			HR:            70,
			Timestamp:     int64(1000 + i*100),
		}
	}
	n, err := signals.InsertSignals(ctx, SignalContext{UserID: "u1", VideoID: 3}, samples)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := signals.Range(ctx, 1200, 1500)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(1200), got[0].Timestamp)
	assert.Equal(t, int64(1500), got[3].Timestamp)
	assert.Equal(t, 102.0, got[0].GSR)
	assert.Equal(t, 3, got[0].VideoID)

	empty, err := signals.Range(ctx, 5000, 6000)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err = signals.InsertSignals(ctx, SignalContext{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVideoStartStore_Latest(t *testing.T) {
	ctx := context.Background()
	starts := NewVideoStartStore(newTestStore(t))

	latest, err := starts.LatestVideoStart(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, starts.RecordVideoStart(ctx, models.VideoStart{Timestamp: 1000, VideoID: 1, UserID: "u1"}))
	require.NoError(t, starts.RecordVideoStart(ctx, models.VideoStart{Timestamp: 5000, VideoID: 2, UserID: "u1"}))

	latest, err = starts.LatestVideoStart(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.VideoID)
	assert.Equal(t, int64(5000), latest.Timestamp)

	all, err := starts.VideoStartsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].VideoID)
}

func TestScoreStore_ByRun(t *testing.T) {
	ctx := context.Background()
	scores := NewScoreStore(newTestStore(t))

	require.NoError(t, scores.SaveScores(ctx, []models.ScoreRecord{
		{StartTime: 10, Start: 2, Border: 3, End: 4, Score: 0.2},
		{StartTime: 10, Start: 1, Border: 2, End: 3, Score: 0.1},
		{StartTime: 20, Start: 5, Border: 6, End: 7, Score: 0.9},
	}))
	require.NoError(t, scores.SaveScores(ctx, nil))

	run, err := scores.ScoresFor(ctx, 10)
	require.NoError(t, err)
	require.Len(t, run, 2)
	assert.Equal(t, int64(1), run[0].Start)
	assert.Equal(t, 0.1, run[0].Score)
}

func TestFeatureStore_SessionOrder(t *testing.T) {
	ctx := context.Background()
	features := NewFeatureStore(newTestStore(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, features.SaveFeature(ctx, models.FeatureRecord{
			StartTime:     int64(i),
			GSRDiff:       float64(i),
			PreviousClass: 2,
			Arousal:       1,
			VideoID:       4,
			SessionID:     "s1",
		}))
	}
	require.NoError(t, features.SaveFeature(ctx, models.FeatureRecord{VideoID: 4, SessionID: "s2"}))

	rows, err := features.FeaturesForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), rows[2].StartTime)
	assert.Equal(t, 2, rows[0].PreviousClass)

	byVideo, err := features.FeaturesForVideo(ctx, 4, 2)
	require.NoError(t, err)
	assert.Len(t, byVideo, 2)
}

func TestPredictionStore_ActiveLifecycle(t *testing.T) {
	ctx := context.Background()
	preds := NewPredictionStore(newTestStore(t))

	p := models.Prediction{StartTime: 100, VideoID: 2, Label: models.LabelLH, Class: 2, UserID: "u1", SessionID: "s1"}
	require.NoError(t, preds.SavePrediction(ctx, p))
	require.NoError(t, preds.SaveActivePrediction(ctx, p))
	require.NoError(t, preds.SaveActivePrediction(ctx, models.Prediction{StartTime: 100, VideoID: 3, Label: models.LabelHH}))

	active, err := preds.ActivePredictions(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.LabelLH, active[0].Label)

	all, err := preds.ActivePredictions(ctx, 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := preds.ClearActivePredictions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Clearing again deletes nothing and succeeds.
	n, err = preds.ClearActivePredictions(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	permanent, err := preds.PredictionsForVideo(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, permanent, 1, "clearing the active set keeps the permanent log")
	assert.Equal(t, "s1", permanent[0].SessionID)
}

func TestPredictionStore_RejectsUnknownLabel(t *testing.T) {
	preds := NewPredictionStore(newTestStore(t))
	err := preds.SavePrediction(context.Background(), models.Prediction{VideoID: 1, Label: "XX"})
	assert.Error(t, err)
}

func TestProfileStore_Upsert(t *testing.T) {
	ctx := context.Background()
	profiles := NewProfileStore(newTestStore(t))

	got, err := profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, profiles.SaveProfile(ctx, models.ClusterProfile{
		UserID:       "u1",
		Vector:       models.ProfileVector{1, 2, 3, 4, 5, 6, 7, 8},
		ClusterIndex: 0,
	}))
	require.NoError(t, profiles.SaveProfile(ctx, models.ClusterProfile{
		UserID:       "u1",
		Vector:       models.ProfileVector{8, 7, 6, 5, 4, 3, 2, 1},
		ClusterIndex: 1,
		Fallback:     true,
	}))

	got, err = profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.ClusterIndex)
	assert.True(t, got.Fallback)
	assert.Equal(t, 8.0, got.Vector[0])
}

func TestStore_GetStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, NewVideoStartStore(store).RecordVideoStart(ctx, models.VideoStart{Timestamp: 1, VideoID: 1}))
	require.NoError(t, NewPredictionStore(store).SavePrediction(ctx, models.Prediction{VideoID: 1, Label: models.LabelHH}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.VideoStarts)
	assert.Equal(t, int64(1), stats.Predictions)
	assert.Zero(t, stats.Signals)
}
