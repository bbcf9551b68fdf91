// Package pipeline runs one video session from start event to terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/opportune/internal/catalog"
	"github.com/thebtf/opportune/internal/features"
	"github.com/thebtf/opportune/internal/predict"
	"github.com/thebtf/opportune/internal/profile"
	"github.com/thebtf/opportune/internal/worker/session"
	"github.com/thebtf/opportune/pkg/models"
)

// Default timing, in line with the acquisition rig.
const (
	DefaultStep        = 5 * time.Second
	DefaultLookback    = 15 * time.Second
	DefaultWarmup      = 15 * time.Second
	DefaultBaseline    = 5 * time.Second
	DefaultClearMargin = 20 * time.Second
	DefaultPoll        = time.Second
)

// Extractor reads a tagged signal window.
type Extractor interface {
	Extract(ctx context.Context, start, end int64, videoID int) ([]models.SignalSample, error)
}

// Scorer produces change-point scores for a window.
type Scorer interface {
	Score(ctx context.Context, startTime int64, segment []models.SignalSample) ([]models.ScoreRecord, error)
}

// Profiler assigns a classifier variant from the calibration video.
type Profiler interface {
	Profile(ctx context.Context, userID string, startTime int64, segment []models.SignalSample) profile.Result
}

// Predictor classifies a block of feature records.
type Predictor interface {
	Predict(ctx context.Context, req predict.Request) (predict.Outcome, error)
}

// Registry is the session table the coordinator reports to.
type Registry interface {
	Create(sess models.Session) (*session.ActiveSession, error)
	Update(id string, status models.SessionStatus, detail string) bool
	Status(id string) (models.SessionStatus, bool)
	SetProfile(userID string, variant int)
	Profile(userID string) (int, bool)
}

// Timing controls the step loop.
type Timing struct {
	Step        time.Duration
	Lookback    time.Duration
	Warmup      time.Duration
	Baseline    time.Duration
	ClearMargin time.Duration
	Poll        time.Duration
}

// DefaultTiming returns the production step schedule.
func DefaultTiming() Timing {
	return Timing{
		Step:        DefaultStep,
		Lookback:    DefaultLookback,
		Warmup:      DefaultWarmup,
		Baseline:    DefaultBaseline,
		ClearMargin: DefaultClearMargin,
		Poll:        DefaultPoll,
	}
}

// Options wires a coordinator.
type Options struct {
	Catalog       *catalog.Catalog
	Registry      Registry
	Extractor     Extractor
	Scorer        Scorer
	Builder       *features.Builder
	Profiler      Profiler
	Predictor     Predictor
	Recorder      *Recorder
	Clock         Clock
	Timing        Timing
	MeterProvider metric.MeterProvider
	Logger        zerolog.Logger
	// OnPrediction is called after every successful prediction.
	OnPrediction func(models.Prediction)
}

// Coordinator owns the per-session state machine.
type Coordinator struct {
	opts    Options
	metrics *metrics
	logger  zerolog.Logger
	done    chan string
}

// New validates opts and returns a coordinator.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("pipeline: catalog is required")
	case opts.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case opts.Extractor == nil, opts.Scorer == nil, opts.Builder == nil:
		return nil, errors.New("pipeline: extractor, scorer and builder are required")
	case opts.Profiler == nil, opts.Predictor == nil:
		return nil, errors.New("pipeline: profiler and predictor are required")
	case opts.Recorder == nil:
		return nil, errors.New("pipeline: recorder is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Timing.Poll <= 0 {
		opts.Timing.Poll = DefaultPoll
	}
	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	return &Coordinator{
		opts:    opts,
		metrics: m,
		logger:  opts.Logger.With().Str("component", "pipeline").Logger(),
		done:    make(chan string, 64),
	}, nil
}

// Done delivers the id of every session whose pipeline has returned. Sends
// never block; slow readers miss notifications.
func (c *Coordinator) Done() <-chan string { return c.done }

// Start registers a session, records the video start and launches the
// pipeline. It returns once the session is processing.
func (c *Coordinator) Start(ctx context.Context, sess models.Session) (models.Session, error) {
	if _, ok := c.opts.Catalog.Get(sess.VideoID); !ok {
		return models.Session{}, fmt.Errorf("%w: %d", catalog.ErrUnknownVideo, sess.VideoID)
	}

	active, err := c.opts.Registry.Create(sess)
	if err != nil {
		return models.Session{}, err
	}

	_ = c.opts.Recorder.RecordVideoStart(ctx, models.VideoStart{
		Timestamp: sess.StartTimestamp,
		VideoID:   sess.VideoID,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
	})

	c.opts.Registry.Update(sess.SessionID, models.SessionStatusProcessing, "")
	go c.supervise(active.Context(), active.Session)

	cur := active.Session
	cur.Status = models.SessionStatusProcessing
	return cur, nil
}

// supervise runs the pipeline and records its terminal state. A panic is
// recovered into the error status.
func (c *Coordinator) supervise(ctx context.Context, sess models.Session) {
	defer func() {
		select {
		case c.done <- sess.SessionID:
		default:
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("sessionId", sess.SessionID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Session pipeline panicked")
			c.finish(sess, models.SessionStatusError, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := c.Run(ctx, sess)
	switch {
	case err == nil:
		c.finish(sess, models.SessionStatusCompleted, "")
	case errors.Is(err, context.Canceled):
		c.finish(sess, models.SessionStatusStopped, "")
	default:
		c.logger.Error().Err(err).Str("sessionId", sess.SessionID).Msg("Session pipeline failed")
		c.finish(sess, models.SessionStatusError, err.Error())
	}
}

func (c *Coordinator) finish(sess models.Session, status models.SessionStatus, detail string) {
	if c.opts.Registry.Update(sess.SessionID, status, detail) {
		c.metrics.session(context.Background(), string(status))
	}
}

// Run executes the pipeline for one session and returns when the video is
// fully processed, the context ends, or an internal failure occurs.
func (c *Coordinator) Run(ctx context.Context, sess models.Session) error {
	if c.opts.Catalog.IsProfiling(sess.VideoID) {
		return c.runProfiling(ctx, sess)
	}
	return c.runSteps(ctx, sess)
}

func (c *Coordinator) runProfiling(ctx context.Context, sess models.Session) error {
	log := c.sessionLogger(sess)
	start := sess.StartTimestamp
	end := start + c.opts.Catalog.Duration(sess.VideoID)

	log.Info().Int64("until", end).Msg("Waiting for calibration video to finish")
	if err := waitUntil(ctx, c.opts.Clock, end, c.opts.Timing.Poll); err != nil {
		return err
	}

	segment, err := c.opts.Extractor.Extract(ctx, start, end, sess.VideoID)
	if err != nil {
		return fmt.Errorf("extract calibration signals: %w", err)
	}
	if len(segment) == 0 {
		log.Warn().Msg("No signals recorded during calibration video")
		return nil
	}

	res := c.opts.Profiler.Profile(ctx, sess.UserID, start, segment)
	if err := c.opts.Recorder.SaveScores(ctx, res.Scores); err != nil {
		log.Warn().Err(err).Msg("Failed to journal calibration scores")
	}
	if err := c.opts.Recorder.SaveProfile(ctx, res.Profile); err != nil {
		log.Warn().Err(err).Msg("Failed to save profile")
	}
	c.opts.Registry.SetProfile(sess.UserID, res.Profile.ClusterIndex)

	log.Info().
		Int("cluster", res.Profile.ClusterIndex).
		Bool("fallback", res.Profile.Fallback).
		Int("samples", len(segment)).
		Msg("Calibration finished")
	return nil
}

// stepState is threaded through the step loop.
type stepState struct {
	baseline []models.SignalSample
	records  []models.FeatureRecord
	history  models.PredictionHistory
}

func (c *Coordinator) runSteps(ctx context.Context, sess models.Session) error {
	log := c.sessionLogger(sess)
	t := c.opts.Timing

	valence, arousal, err := c.opts.Catalog.Label(sess.VideoID)
	if err != nil {
		return err
	}
	variant, ok := c.opts.Registry.Profile(sess.UserID)
	if !ok {
		log.Warn().Msg("User has no calibration profile, using cluster 0")
	}

	if err := c.opts.Clock.Sleep(ctx, t.Warmup); err != nil {
		return err
	}

	start := sess.StartTimestamp
	end := start + c.opts.Catalog.Duration(sess.VideoID)
	step := t.Step.Milliseconds()
	if step <= 0 {
		return fmt.Errorf("invalid step %s", t.Step)
	}

	st := &stepState{history: models.NewPredictionHistory()}
	for cursor := start; cursor < end; cursor += step {
		if status, ok := c.opts.Registry.Status(sess.SessionID); ok && status.IsTerminal() {
			log.Info().Str("status", string(status)).Msg("Session ended externally")
			return nil
		}

		if cursor >= end-t.ClearMargin.Milliseconds() {
			n, err := c.opts.Recorder.ClearActive(ctx, sess.VideoID)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to clear active predictions")
			} else {
				log.Debug().Int("removed", n).Int64("cursor", cursor).Msg("Cleared active predictions")
			}
		}

		windowEnd := cursor + t.Lookback.Milliseconds()
		if err := waitUntil(ctx, c.opts.Clock, windowEnd, t.Poll); err != nil {
			return err
		}

		if err := c.step(ctx, sess, st, variant, valence, arousal, cursor, windowEnd); err != nil {
			return err
		}
	}

	log.Info().
		Int("features", len(st.records)).
		Int("predictions", st.history.Predicted()).
		Msg("Video processed")
	return nil
}

// step processes one window. Not-ready conditions, including a failed signal
// read, are logged and return nil; only context errors and feature build
// failures are returned.
func (c *Coordinator) step(ctx context.Context, sess models.Session, st *stepState, variant, valence, arousal int, cursor, windowEnd int64) error {
	log := c.sessionLogger(sess).With().Int64("window_start", cursor).Logger()

	segment, err := c.opts.Extractor.Extract(ctx, cursor, windowEnd, sess.VideoID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn().Err(err).Msg("Signal read failed")
		c.skip(ctx, log, ReasonSourceFailed)
		return nil
	}
	if len(st.baseline) == 0 {
		base := sess.StartTimestamp
		baseline, err := c.opts.Extractor.Extract(ctx, base-c.opts.Timing.Baseline.Milliseconds(), base, sess.VideoID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Left empty; the next step retries.
			log.Warn().Err(err).Msg("Baseline read failed")
		}
		st.baseline = baseline
	}
	if len(segment) == 0 {
		c.skip(ctx, log, ReasonNoSignal)
		return nil
	}

	began := time.Now()
	scores, err := c.opts.Scorer.Score(ctx, cursor, segment)
	c.metrics.scored(ctx, time.Since(began))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn().Err(err).Msg("Scoring failed")
		c.skip(ctx, log, ReasonScoringFailed)
		return nil
	}
	if err := c.opts.Recorder.SaveScores(ctx, scores); err != nil {
		log.Warn().Err(err).Msg("Failed to journal scores")
	}

	rec, err := c.opts.Builder.Build(features.Input{
		StartTime: cursor,
		Segment:   segment,
		Baseline:  st.baseline,
		Scores:    scores,
		Valence:   valence,
		Arousal:   arousal,
		History:   st.history,
		VideoID:   sess.VideoID,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
	})
	switch {
	case errors.Is(err, features.ErrNoBaseline):
		c.skip(ctx, log, ReasonNoBaseline)
		return nil
	case errors.Is(err, features.ErrNoScore):
		c.skip(ctx, log, ReasonNoScore)
		return nil
	case errors.Is(err, features.ErrNotEnoughSamples):
		c.skip(ctx, log, ReasonNoSignal)
		return nil
	case err != nil:
		return fmt.Errorf("build features: %w", err)
	}

	st.records = append(st.records, rec)
	if err := c.opts.Recorder.SaveFeature(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to journal feature")
	}

	// The block is the rows preceding the current one.
	n := len(st.records)
	if n <= predict.SequenceLength {
		c.skip(ctx, log, ReasonHistory)
		return nil
	}
	out, err := c.opts.Predictor.Predict(ctx, predict.Request{
		Records:   st.records[n-1-predict.SequenceLength : n-1],
		Variant:   variant,
		StartTime: cursor,
		VideoID:   sess.VideoID,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		History:   st.history,
	})
	if err != nil {
		log.Error().Err(err).Msg("Prediction failed")
		c.skip(ctx, log, ReasonPredictionFailed)
		return nil
	}

	st.history = out.History
	c.metrics.prediction(ctx, string(out.Prediction.Label))
	log.Info().Str("label", string(out.Prediction.Label)).Msg("Opportuneness predicted")
	if c.opts.OnPrediction != nil {
		c.opts.OnPrediction(out.Prediction)
	}
	return nil
}

func (c *Coordinator) skip(ctx context.Context, log zerolog.Logger, reason string) {
	c.metrics.skip(ctx, reason)
	log.Debug().Str("reason", reason).Msg("Step skipped")
}

func (c *Coordinator) sessionLogger(sess models.Session) zerolog.Logger {
	return c.logger.With().
		Str("sessionId", sess.SessionID).
		Str("user", sess.UserID).
		Int("video", sess.VideoID).
		Logger()
}
