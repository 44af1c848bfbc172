package store

import (
	"context"
	"sync"
	"time"

	"medcite-backend/internal/types"
)

// MemoryStore keeps the chat log for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	turns  []types.ChatTurn
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg Message) (types.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn, err := newTurn(m.nextID, msg, m.now().UTC())
	if err != nil {
		return types.ChatTurn{}, err
	}
	m.nextID++
	m.turns = append(m.turns, turn)
	return cloneTurns([]types.ChatTurn{turn})[0], nil
}

func (m *MemoryStore) GetMessages(_ context.Context) ([]types.ChatTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTurns(m.turns), nil
}
