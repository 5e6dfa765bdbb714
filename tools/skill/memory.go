package skill

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It has no persistence across restarts;
// persist/sqlite and persist/postgres provide durable alternatives.
type MemoryStore struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory skill Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{skills: make(map[string]Skill)}
}

func (s *MemoryStore) CreateSkill(_ context.Context, sk Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[sk.ID] = sk
	return nil
}

func (s *MemoryStore) GetSkill(_ context.Context, id string) (Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[id]
	if !ok {
		return Skill{}, fmt.Errorf("skill not found: %s", id)
	}
	return sk, nil
}

func (s *MemoryStore) ListSkills(_ context.Context) ([]Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		out = append(out, sk)
	}
	return out, nil
}

func (s *MemoryStore) UpdateSkill(_ context.Context, sk Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skills[sk.ID]; !ok {
		return fmt.Errorf("skill not found: %s", sk.ID)
	}
	s.skills[sk.ID] = sk
	return nil
}

func (s *MemoryStore) DeleteSkill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skills[id]; !ok {
		return fmt.Errorf("skill not found: %s", id)
	}
	delete(s.skills, id)
	return nil
}
