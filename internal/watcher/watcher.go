// Package watcher starts video sessions from start files dropped into a
// directory.
//
// Each start file is a CSV whose first row is "start_timestamp,video_marker".
// Even markers announce a video start; odd markers announce its end and are
// ignored. The n-th accepted start file maps to the n-th configured video.
package watcher

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 200 * time.Millisecond

// ErrNoMoreVideos is returned when more start files arrive than videos exist.
var ErrNoMoreVideos = errors.New("no video left for start file")

// StartFunc starts a session for videoID beginning at startTimestamp (epoch ms).
type StartFunc func(ctx context.Context, videoID int, startTimestamp int64) error

// Watcher monitors a drop folder for start files.
type Watcher struct {
	dir      string
	videos   []int
	onStart  StartFunc
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	pending  map[string]*time.Timer
	seen     map[string]bool
	accepted int
	debounce time.Duration
	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
}

// New creates a Watcher for dir. videos lists the video ids in playback order.
func New(dir string, videos []int, onStart StartFunc) (*Watcher, error) {
	if onStart == nil {
		return nil, errors.New("watcher: nil start callback")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	order := make([]int, len(videos))
	copy(order, videos)

	return &Watcher{
		dir:      filepath.Clean(dir),
		videos:   order,
		onStart:  onStart,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*time.Timer),
		seen:     make(map[string]bool),
		debounce: DefaultDebounce,
	}, nil
}

// Start begins watching. The directory is created if missing.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return fmt.Errorf("create drop folder: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.wg.Add(1)
	go w.watchLoop()
	log.Info().Str("dir", w.dir).Int("videos", len(w.videos)).Msg("Watching drop folder")
	return nil
}

// Stop stops the watcher and waits for in-flight start files.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	for name, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, name)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// Accepted returns the number of start files that have been accepted.
func (w *Watcher) Accepted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accepted
}

func isStartFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tmp":
		return true
	}
	return false
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isStartFile(event.Name) {
				continue
			}
			w.schedule(filepath.Clean(event.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.seen[path] {
		return
	}
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.handle(path)
	})
}

func (w *Watcher) handle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if !w.running || w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	logger := log.With().Str("file", filepath.Base(path)).Logger()

	f, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot open start file")
		return
	}
	ts, marker, err := ParseStartFile(f)
	_ = f.Close()
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid start file")
		return
	}
	if marker%2 != 0 {
		logger.Debug().Int("marker", marker).Msg("End marker ignored")
		return
	}

	videoID, err := w.next()
	if err != nil {
		logger.Warn().Err(err).Int("accepted", w.Accepted()).Msg("Start file ignored")
		return
	}

	if err := w.onStart(w.ctx, videoID, ts); err != nil {
		logger.Error().Err(err).Int("video", videoID).Msg("Failed to start session from drop folder")
		return
	}
	logger.Info().Int("video", videoID).Int64("timestamp", ts).Msg("Session started from drop folder")
}

// next claims the video for the next accepted start file.
func (w *Watcher) next() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.accepted >= len(w.videos) {
		return 0, ErrNoMoreVideos
	}
	id := w.videos[w.accepted]
	w.accepted++
	return id, nil
}

// ParseStartFile reads the first row of a start file and returns its start
// timestamp (epoch ms) and video marker.
func ParseStartFile(r io.Reader) (startTimestamp int64, marker int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, 0, errors.New("empty start file")
	}
	if err != nil {
		return 0, 0, err
	}
	if len(rec) < 2 {
		return 0, 0, fmt.Errorf("start row has %d fields, want 2", len(rec))
	}

	tsf, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("start timestamp %q: %w", rec[0], err)
	}
	mf, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("video marker %q: %w", rec[1], err)
	}
	return int64(tsf), int(mf), nil
}
