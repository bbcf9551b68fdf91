// Package journal keeps append-only JSONL copies of pipeline output.
// It is the flat-file side of the dual write: rows land here even when the
// database is unavailable, so a run can be replayed.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/opportune/pkg/models"
)

// File names inside the journal directory.
const (
	ScoresFile            = "scores.jsonl"
	FeaturesFile          = "features.jsonl"
	PredictionsFile       = "predictions.jsonl"
	ActivePredictionsFile = "active_predictions.jsonl"
)

// File is one JSONL file of records of type T.
type File[T any] struct {
	path string
	mu   sync.Mutex
}

// Path returns the file location.
func (f *File[T]) Path() string { return f.path }

// Append writes records as one JSON line each.
func (f *File[T]) Append(records ...T) error {
	if len(records) == 0 {
		return nil
	}
	var buf []byte
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal journal record: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer fh.Close()

	// A torn last line must not swallow the first new record.
	if info, err := fh.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := fh.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			buf = append([]byte{'\n'}, buf...)
		}
	}

	if _, err := fh.Write(buf); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// ReadAll reads and parses all records. Lines that do not parse are skipped
// and logged. Returns an empty slice (not an error) if the file does not exist.
func (f *File[T]) ReadAll() ([]T, error) {
	records, _, err := f.Read()
	return records, err
}

// Read is ReadAll that also reports how many lines were skipped.
func (f *File[T]) Read() (records []T, skipped int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *File[T]) readLocked() ([]T, int, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, 0, nil
		}
		return nil, 0, fmt.Errorf("open journal file: %w", err)
	}
	defer fh.Close()

	records := []T{}
	skipped := 0
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r T
		if err := json.Unmarshal(line, &r); err != nil {
			skipped++
			log.Warn().Err(err).Str("file", filepath.Base(f.path)).Int("line", lineNum).Msg("Skipping malformed journal line")
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read journal file: %w", err)
	}
	return records, skipped, nil
}

// RemoveWhere rewrites the file without the records matching drop and reports
// how many were removed. A missing file removes nothing. Malformed lines are
// dropped by the rewrite.
func (f *File[T]) RemoveWhere(drop func(T) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, skipped, err := f.readLocked()
	if err != nil {
		return 0, err
	}
	keep := records[:0]
	removed := 0
	for _, r := range records {
		if drop(r) {
			removed++
			continue
		}
		keep = append(keep, r)
	}
	if removed == 0 && skipped == 0 {
		return 0, nil
	}

	tmp := f.path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("open journal file: %w", err)
	}
	w := bufio.NewWriter(fh)
	for _, r := range keep {
		data, err := json.Marshal(r)
		if err != nil {
			fh.Close()
			return 0, fmt.Errorf("marshal journal record: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return 0, fmt.Errorf("write journal file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return 0, fmt.Errorf("replace journal file: %w", err)
	}
	return removed, nil
}

// Journal groups the pipeline's JSONL files.
type Journal struct {
	dir               string
	Scores            *File[models.ScoreRecord]
	Features          *File[models.FeatureRecord]
	Predictions       *File[models.Prediction]
	ActivePredictions *File[models.Prediction]
}

// Open creates dir if needed. Existing files are never truncated.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{
		dir:               dir,
		Scores:            &File[models.ScoreRecord]{path: filepath.Join(dir, ScoresFile)},
		Features:          &File[models.FeatureRecord]{path: filepath.Join(dir, FeaturesFile)},
		Predictions:       &File[models.Prediction]{path: filepath.Join(dir, PredictionsFile)},
		ActivePredictions: &File[models.Prediction]{path: filepath.Join(dir, ActivePredictionsFile)},
	}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// ClearActive drops the active predictions of one video.
func (j *Journal) ClearActive(videoID int) (int, error) {
	return j.ActivePredictions.RemoveWhere(func(p models.Prediction) bool {
		return p.VideoID == videoID
	})
}
