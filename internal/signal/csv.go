package signal

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/thebtf/opportune/pkg/models"
)

// CSVSource reads the shared signal log written by the acquisition process.
// Rows are arduino_millis,gsr,hr,timestamp_ms,wall_clock. The file is re-read
// on every call since the writer keeps appending to it.
type CSVSource struct {
	Path string
}

// NewCSVSource returns a source over the CSV log at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Range implements Source. A missing file yields no samples.
func (c *CSVSource) Range(ctx context.Context, start, end int64) ([]models.SignalSample, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.SignalSample{}, nil
		}
		return nil, err
	}
	defer f.Close()

	all, _, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.SignalSample, 0)
	for _, s := range all {
		if s.Timestamp >= start && s.Timestamp <= end {
			out = append(out, s)
		}
	}
	return out, nil
}

// ParseCSV parses signal rows. A header row and malformed rows are skipped;
// skipped counts the malformed ones.
func ParseCSV(r io.Reader) (samples []models.SignalSample, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	first := true
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, skipped, err
		}
		header := first && isHeader(rec)
		first = false
		if header {
			continue
		}
		s, perr := ParseRecord(rec)
		if perr != nil {
			skipped++
			continue
		}
		samples = append(samples, s)
	}
	if samples == nil {
		samples = []models.SignalSample{}
	}
	return samples, skipped, nil
}

// ParseRecord converts one CSV record into a sample. The wall-clock column is
// optional.
func ParseRecord(rec []string) (models.SignalSample, error) {
	if len(rec) < 4 {
		return models.SignalSample{}, errors.New("signal row needs at least 4 fields")
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return models.SignalSample{}, err
	}
	gsr, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return models.SignalSample{}, err
	}
	hr, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return models.SignalSample{}, err
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
	if err != nil {
		return models.SignalSample{}, err
	}
	s := models.SignalSample{SequenceIndex: seq, GSR: gsr, HR: hr, Timestamp: ts}
	if len(rec) > 4 {
		s.WallClock = strings.TrimSpace(rec[4])
	}
	return s, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}
