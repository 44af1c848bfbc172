package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medcite-backend/internal/types"
)

// FileStore persists the chat log as a JSON array on disk. The whole log is
// held in memory and rewritten on every append.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	turns  []types.ChatTurn
	nextID int64
	now    func() time.Time
}

// OpenFileStore loads an existing log at path, or starts an empty one.
func OpenFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path, nextID: 1, now: time.Now}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read message log: %w", err)
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.turns); err != nil {
		return nil, fmt.Errorf("decode message log %s: %w", path, err)
	}
	for _, t := range f.turns {
		if t.ID >= f.nextID {
			f.nextID = t.ID + 1
		}
	}
	return f, nil
}

func (f *FileStore) CreateMessage(_ context.Context, msg Message) (types.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turn, err := newTurn(f.nextID, msg, f.now().UTC())
	if err != nil {
		return types.ChatTurn{}, err
	}
	next := append(cloneTurns(f.turns), turn)
	if err := f.writeLocked(next); err != nil {
		return types.ChatTurn{}, err
	}
	f.turns = next
	f.nextID++
	return cloneTurns([]types.ChatTurn{turn})[0], nil
}

func (f *FileStore) GetMessages(_ context.Context) ([]types.ChatTurn, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return cloneTurns(f.turns), nil
}

func (f *FileStore) writeLocked(turns []types.ChatTurn) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create message log dir: %w", err)
	}
	b, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode message log: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write message log: %w", err)
	}
	return os.Rename(tmp, f.path)
}
