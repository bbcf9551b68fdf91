// Package signal reads physiological samples by time range.
package signal

import (
	"context"
	"fmt"

	"github.com/thebtf/opportune/pkg/models"
)

// Source is an append-only log of samples. Range returns every sample with
// start <= timestamp <= end in arrival order. It must not mutate the log.
type Source interface {
	Range(ctx context.Context, start, end int64) ([]models.SignalSample, error)
}

// Extractor slices a source into the windows the pipeline asks for.
type Extractor struct {
	source Source
}

// NewExtractor returns an extractor over src.
func NewExtractor(src Source) *Extractor {
	return &Extractor{source: src}
}

// Extract returns the samples in [start, end] tagged with videoID. No matching
// samples is not an error: the result is empty.
func (e *Extractor) Extract(ctx context.Context, start, end int64, videoID int) ([]models.SignalSample, error) {
	if end < start {
		return []models.SignalSample{}, nil
	}
	samples, err := e.source.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("extract [%d,%d]: %w", start, end, err)
	}
	out := make([]models.SignalSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp < start || s.Timestamp > end {
			continue
		}
		s.VideoID = videoID
		out = append(out, s)
	}
	return out, nil
}
