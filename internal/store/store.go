package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Store persists per-test history keyed by test id.
type Store interface {
	Get(ctx context.Context, testID string) (*History, error)
	Set(ctx context.Context, testID string, h *History) error
	List(ctx context.Context) ([]string, error)
	// Delete removes a test's history. It returns ErrNotFound when there is
	// nothing to remove.
	Delete(ctx context.Context, testID string) error

	// Lifecycle
	Close() error
}

// MemoryStore keeps histories in process memory. Values are deep-copied on
// the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string]*History
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{histories: make(map[string]*History)}
}

func (s *MemoryStore) Get(ctx context.Context, testID string) (*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[testID]
	if !ok {
		return nil, ErrNotFound
	}
	return h.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, testID string, h *History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[testID] = h.Clone()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Delete(ctx context.Context, testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[testID]; !ok {
		return ErrNotFound
	}
	delete(s.histories, testID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Clone returns a copy whose slices can be appended to independently.
// Results themselves are immutable once created so they are copied shallowly.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	out := &History{
		TestID:    h.TestID,
		Results:   append([]AnalysisResult(nil), h.Results...),
		Anomalies: append([]AnomalyReport(nil), h.Anomalies...),
		UpdatedAt: h.UpdatedAt,
	}
	if h.Metrics != nil {
		m := h.Metrics.Clone()
		out.Metrics = &m
	}
	return out
}
