// Package metricstore holds bounded, per-metric time series of samples.
package metricstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sample is a single timestamped observation.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Store keeps the most recent samples of each named series. Implementations
// evict the oldest samples once a series reaches its capacity and return
// samples oldest first.
type Store interface {
	Append(ctx context.Context, name string, sample Sample) error
	// Range returns the samples with Timestamp >= since.
	Range(ctx context.Context, name string, since time.Time) ([]Sample, error)
	// Last returns the n most recent samples; n <= 0 returns all of them.
	Last(ctx context.Context, name string, n int) ([]Sample, error)
	Len(ctx context.Context, name string) (int, error)
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Values extracts the sample values.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// ring is a bounded FIFO of samples. The buffer grows with the series and
// starts overwriting the oldest sample once it holds size samples.
type ring struct {
	size  int
	buf   []Sample
	head  int
	count int
}

func newRing(size int) *ring {
	return &ring{size: size}
}

func (r *ring) add(s Sample) {
	if len(r.buf) < r.size {
		r.buf = append(r.buf, s)
		r.count = len(r.buf)
		r.head = len(r.buf) % r.size
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % r.size
}

// at returns the i-th oldest sample.
func (r *ring) at(i int) Sample {
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[(start+i)%len(r.buf)]
}

func (r *ring) last(n int) []Sample {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = r.at(r.count - n + i)
	}
	return out
}

func (r *ring) since(t time.Time) []Sample {
	var out []Sample
	for i := 0; i < r.count; i++ {
		if s := r.at(i); !s.Timestamp.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// filterSince keeps the samples with Timestamp >= t. Samples carry caller
// supplied timestamps, so the input is not assumed to be ordered.
func filterSince(samples []Sample, t time.Time) []Sample {
	out := samples[:0]
	for _, s := range samples {
		if !s.Timestamp.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// MemoryStore is an in-process Store backed by one ring buffer per series.
type MemoryStore struct {
	capacity int

	mu     sync.RWMutex
	series map[string]*ring
}

// NewMemoryStore creates a store keeping at most capacity samples per series.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		capacity: capacity,
		series:   make(map[string]*ring),
	}
}

func (m *MemoryStore) Append(_ context.Context, name string, sample Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.series[name]
	if !ok {
		r = newRing(m.capacity)
		m.series[name] = r
	}
	r.add(sample)
	return nil
}

func (m *MemoryStore) Range(_ context.Context, name string, since time.Time) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.series[name]
	if !ok {
		return nil, nil
	}
	return r.since(since), nil
}

func (m *MemoryStore) Last(_ context.Context, name string, n int) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.series[name]
	if !ok {
		return nil, nil
	}
	return r.last(n), nil
}

func (m *MemoryStore) Len(_ context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.series[name]; ok {
		return r.count, nil
	}
	return 0, nil
}

func (m *MemoryStore) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.series, name)
	return nil
}
