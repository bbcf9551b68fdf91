package signal

import (
	"context"
	"sync"

	"github.com/thebtf/opportune/pkg/models"
)

// MemorySource is an in-process signal log.
type MemorySource struct {
	mu      sync.RWMutex
	samples []models.SignalSample
}

// NewMemorySource returns a source preloaded with samples.
func NewMemorySource(samples ...models.SignalSample) *MemorySource {
	m := &MemorySource{}
	m.Append(samples...)
	return m
}

// Append adds samples to the end of the log.
func (m *MemorySource) Append(samples ...models.SignalSample) {
	m.mu.Lock()
	m.samples = append(m.samples, samples...)
	m.mu.Unlock()
}

// Len returns the number of samples held.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Range implements Source.
func (m *MemorySource) Range(_ context.Context, start, end int64) ([]models.SignalSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SignalSample, 0)
	for _, s := range m.samples {
		if s.Timestamp >= start && s.Timestamp <= end {
			out = append(out, s)
		}
	}
	return out, nil
}
