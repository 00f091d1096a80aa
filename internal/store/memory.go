package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// MemoryStore is a process-local store for tests and the "memory" driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]feedback.Record
	results feedback.ResultSet
}

// NewMemoryStore creates an empty store, optionally seeded with records.
func NewMemoryStore(records ...feedback.Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]feedback.Record, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// Records returns every record ordered by submission time, then ID.
func (s *MemoryStore) Records(ctx context.Context) ([]feedback.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]feedback.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AddRecords inserts records. A batch that repeats a stored or in-batch ID
// is rejected as a whole.
func (s *MemoryStore) AddRecords(ctx context.Context, records []feedback.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBatchIDs(records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, ok := s.records[r.ID]; ok {
			return fmt.Errorf("%w: record %s already exists", feedback.ErrInvalidRecord, r.ID)
		}
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

// LoadResults returns the last stored result set.
func (s *MemoryStore) LoadResults(ctx context.Context) (feedback.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return feedback.ResultSet{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results, nil
}

// ReplaceResults stores rs in place of the previous set.
func (s *MemoryStore) ReplaceResults(ctx context.Context, rs feedback.ResultSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = rs
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
