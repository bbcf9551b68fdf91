// Package worker provides the HTTP service that starts video sessions and
// serves their results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/opportune/internal/catalog"
	"github.com/thebtf/opportune/internal/changepoint"
	"github.com/thebtf/opportune/internal/config"
	gormdb "github.com/thebtf/opportune/internal/db/gorm"
	"github.com/thebtf/opportune/internal/features"
	"github.com/thebtf/opportune/internal/journal"
	"github.com/thebtf/opportune/internal/logging"
	"github.com/thebtf/opportune/internal/pipeline"
	"github.com/thebtf/opportune/internal/predict"
	"github.com/thebtf/opportune/internal/profile"
	"github.com/thebtf/opportune/internal/signal"
	"github.com/thebtf/opportune/internal/watcher"
	"github.com/thebtf/opportune/internal/worker/session"
	"github.com/thebtf/opportune/internal/worker/sse"
	"github.com/thebtf/opportune/pkg/models"
)

// DropFolderUser is the user id given to sessions started from the drop folder.
const DropFolderUser = "local"

// Service is the worker: session control, query API and live events.
type Service struct {
	startTime      time.Time
	ctx            context.Context
	classifier     predict.Classifier
	config         *config.Config
	catalog        *catalog.Catalog
	store          *gormdb.Store
	repos          *gormdb.Repositories
	journal        *journal.Journal
	sessionManager *session.Manager
	coordinator    *pipeline.Coordinator
	sseBroadcaster *sse.Broadcaster
	dropWatcher    *watcher.Watcher
	router         *chi.Mux
	server         *http.Server
	cancel         context.CancelFunc
	version        string
	ready          atomic.Bool
}

// NewService wires the worker from configuration. A store that cannot be
// opened is logged and the service runs on the journal alone.
func NewService(version string, cfg *config.Config) (*Service, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load video catalog: %w", err)
	}
	if cfg.ProfilingVideo > 0 {
		cat = cat.WithProfiling(cfg.ProfilingVideo)
	}

	j, err := journal.Open(cfg.JournalDir)
	if err != nil {
		return nil, err
	}

	var (
		store *gormdb.Store
		repos *gormdb.Repositories
	)
	store, err = gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.DBDriver).Msg("Store unavailable, continuing with journal only")
		store = nil
	} else {
		repos = gormdb.NewRepositories(store)
	}

	var src signal.Source
	switch {
	case cfg.SignalLog != "":
		src = signal.NewCSVSource(cfg.SignalLog)
	case repos != nil:
		src = repos.SignalStore
	default:
		return nil, errors.New("no signal source: set a signal log or a reachable store")
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		config:         cfg,
		catalog:        cat,
		store:          store,
		repos:          repos,
		journal:        j,
		classifier:     classifier,
		sessionManager: session.NewManager(cfg.Retention),
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	var pstore pipeline.Store
	if repos != nil {
		pstore = repos
	}
	plog := logging.WithComponent("worker")
	recorder := pipeline.NewRecorder(pstore, j, plog)
	scorer := changepoint.NewScorer(cfg.WindowSize)

	svc.coordinator, err = pipeline.New(pipeline.Options{
		Catalog:   cat,
		Registry:  svc.sessionManager,
		Extractor: signal.NewExtractor(src),
		Scorer:    scorer,
		Builder:   features.NewBuilder(cfg.WindowSize),
		Profiler:  profile.New(scorer, plog),
		Predictor: predict.New(classifier, recorder, plog),
		Recorder:  recorder,
		Timing: pipeline.Timing{
			Step:        cfg.Step,
			Lookback:    cfg.Lookback,
			Warmup:      cfg.Warmup,
			Baseline:    cfg.Baseline,
			ClearMargin: cfg.ClearMargin,
			Poll:        cfg.Poll,
		},
		Logger:       plog,
		OnPrediction: svc.broadcastPrediction,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	svc.sessionManager.SetOnSessionUpdated(svc.broadcastSession)

	if cfg.WatchDir != "" {
		svc.dropWatcher, err = watcher.New(cfg.WatchDir, cat.IDs(), svc.startFromDropFolder)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("drop folder watcher: %w", err)
		}
	}

	svc.setupRoutes()
	return svc, nil
}

func newClassifier(cfg *config.Config) (predict.Classifier, error) {
	switch cfg.Classifier {
	case "onnx":
		return predict.NewONNXClassifier(logging.WithComponent("onnx"), cfg.OnnxLibrary, cfg.ModelPath)
	case "http":
		if cfg.ClassifierURL == "" {
			return nil, errors.New("http classifier needs a URL")
		}
		return predict.NewHTTPClassifier(cfg.ClassifierURL), nil
	case "constant":
		// The reference deployment always answered class 1.
		return predict.ConstantClassifier{Class: 1}, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

// setupRoutes registers every endpoint on the router.
func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", serveIndex)
	r.Get("/assets/*", serveAssets)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/events", s.sseBroadcaster.HandleSSE)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/video/start", s.handleVideoStart)
		r.Post("/api/video/stop", s.handleVideoStop)
		r.Get("/api/video/session/{id}", s.handleGetSession)
		r.Get("/api/video/sessions/active", s.handleActiveSessions)
		r.Get("/api/video/health", s.handleVideoHealth)
		r.Get("/api/videos", s.handleVideos)

		r.Get("/api/predictions/active", s.handleActivePredictions)
		r.Get("/api/predictions/video/{id}", s.handleVideoPredictions)
		r.Get("/api/features/session/{id}", s.handleSessionFeatures)
		r.Get("/api/profiles/{user}", s.handleGetProfile)

		r.Get("/api/signals/range", s.handleSignalRange)
		r.Post("/api/signals", s.handleIngestSignals)

		r.Get("/api/stats", s.handleStats)
	})
}

// Start listens on the configured address and starts the drop-folder watcher.
func (s *Service) Start() error {
	addr := net.JoinHostPort(s.config.WorkerHost, strconv.Itoa(s.config.WorkerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.dropWatcher != nil {
		if err := s.dropWatcher.Start(); err != nil {
			log.Warn().Err(err).Str("dir", s.config.WatchDir).Msg("Drop folder watcher failed to start")
		}
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.startBackground()
	s.ready.Store(true)
	log.Info().Str("addr", addr).Str("version", s.version).Msg("Worker listening")
	return nil
}

// Shutdown stops accepting requests, cancels running sessions and closes
// the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()

	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if s.dropWatcher != nil {
		errs = append(errs, s.dropWatcher.Stop())
	}
	s.sessionManager.Shutdown()
	if closer, ok := s.classifier.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Router exposes the HTTP handler.
func (s *Service) Router() http.Handler { return s.router }

// startSession fills defaults and hands the session to the coordinator.
func (s *Service) startSession(ctx context.Context, sess models.Session) (models.Session, error) {
	if sess.SessionID == "" {
		sess.SessionID = uuid.NewString()
	}
	if sess.StartTimestamp == 0 {
		sess.StartTimestamp = time.Now().UnixMilli()
	}
	return s.coordinator.Start(ctx, sess)
}

func (s *Service) startFromDropFolder(ctx context.Context, videoID int, startTimestamp int64) error {
	_, err := s.startSession(ctx, models.Session{
		UserID:         DropFolderUser,
		VideoID:        videoID,
		StartTimestamp: startTimestamp,
	})
	return err
}

// SSE event names.
const (
	EventPrediction = "prediction"
	EventSession    = "session"
	// EventSessionFinished is published once a session's pipeline has returned.
	EventSessionFinished = "session_finished"
)

// startBackground drains pipeline completions until the service shuts down.
func (s *Service) startBackground() {
	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case id := <-s.coordinator.Done():
				s.sessionFinished(id)
			}
		}
	}()
}

func (s *Service) sessionFinished(id string) {
	sess, ok := s.sessionManager.Get(id)
	if !ok {
		log.Debug().Str("sessionId", id).Msg("Finished session already removed")
		return
	}
	ev := log.Info()
	if sess.Status == models.SessionStatusError {
		ev = log.Warn().Str("error", sess.ErrorDetail)
	}
	ev.Str("sessionId", id).
		Int("video", sess.VideoID).
		Str("status", string(sess.Status)).
		Dur("elapsed", sess.UpdatedAt.Sub(sess.StartedAt)).
		Msg("Session finished")
	s.sseBroadcaster.Publish(EventSessionFinished, sess)
}

func (s *Service) broadcastPrediction(p models.Prediction) {
	s.sseBroadcaster.Publish(EventPrediction, p)
}

func (s *Service) broadcastSession(sess models.Session) {
	s.sseBroadcaster.Publish(EventSession, sess)
}
