package session

import (
	"context"
	"sync"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

// MemoryStore is an in-memory Store used in tests and ephemeral runs.
type MemoryStore struct {
	mu          sync.Mutex
	rec         *Record
	deadLetters []resilience.PushDeadLetter
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{Session: model.DefaultSession()}, nil
	}
	return *s.rec, nil
}

func (s *MemoryStore) Save(_ context.Context, sess model.LocationSession, seq int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if s.rec != nil {
		current = s.rec.Seq
	}
	if s.rec != nil && current != seq {
		return Record{}, ErrSequenceConflict
	}
	rec := Record{Session: sess, Seq: current + 1}
	s.rec = &rec
	return rec, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

func (s *MemoryStore) AppendDeadLetter(_ context.Context, dl resilience.PushDeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

func (s *MemoryStore) ListDeadLetters(_ context.Context, limit int) ([]resilience.PushDeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.deadLetters) {
		limit = len(s.deadLetters)
	}
	out := make([]resilience.PushDeadLetter, limit)
	copy(out, s.deadLetters[:limit])
	return out, nil
}

func (s *MemoryStore) DeleteDeadLetter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, dl := range s.deadLetters {
		if dl.ID == id {
			s.deadLetters = append(s.deadLetters[:i], s.deadLetters[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
