package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryTurnStore keeps turns in memory, for tests and ephemeral sessions.
type MemoryTurnStore struct {
	mu    sync.Mutex
	turns []TurnRecord
}

var _ TurnStore = &MemoryTurnStore{}

func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{}
}

func (s *MemoryTurnStore) SaveTurn(_ context.Context, rec TurnRecord) error {
	if rec.SessionID == "" {
		return errors.New("memory turn store: session id is empty")
	}
	if rec.TurnID == "" {
		return errors.New("memory turn store: turn id is empty")
	}
	s.mu.Lock()
	s.turns = append(s.turns, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryTurnStore) ListTurns(_ context.Context, q TurnQuery) ([]TurnRecord, error) {
	if q.SessionID == "" {
		return nil, errors.New("memory turn store: session id required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TurnRecord{}
	for _, rec := range s.turns {
		if rec.SessionID != q.SessionID {
			continue
		}
		if q.ParticipantID != "" && rec.ParticipantID != q.ParticipantID {
			continue
		}
		if q.SinceMs > 0 && rec.CreatedAtMs < q.SinceMs {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryTurnStore) Close() error { return nil }
