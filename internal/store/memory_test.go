package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medcite-backend/internal/types"
)

func TestMemoryStoreAssignsSequentialIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		turn, err := s.CreateMessage(ctx, Message{Role: types.RoleUser, Content: "q"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if turn.ID != int64(i) {
			t.Fatalf("expected id %d, got %d", i, turn.ID)
		}
	}
}

func TestMemoryStoreNormalisesOptionalFields(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	turn, err := s.CreateMessage(context.Background(), Message{
		Role:       types.RoleAssistant,
		Content:    "answer",
		Citations:  []types.Citation{},
		RAGContext: []string{},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if turn.Citations != nil || turn.RAGContext != nil {
		t.Fatalf("expected empty collections to be absent, got %+v", turn)
	}
	if turn.Confidence != "" {
		t.Fatalf("expected absent confidence, got %q", turn.Confidence)
	}
	if !turn.Timestamp.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, turn.Timestamp)
	}
}

func TestMemoryStoreRejectsInvalidTurns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CreateMessage(ctx, Message{Role: "system", Content: "x"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for role, got %v", err)
	}
	if _, err := s.CreateMessage(ctx, Message{Role: types.RoleAssistant, Confidence: "certain"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for confidence, got %v", err)
	}
	msgs, _ := s.GetMessages(ctx)
	if len(msgs) != 0 {
		t.Fatalf("rejected turns must not be stored, got %d", len(msgs))
	}
	// ids are not consumed by rejected turns
	turn, err := s.CreateMessage(ctx, Message{Role: types.RoleUser, Content: "ok"})
	if err != nil || turn.ID != 1 {
		t.Fatalf("expected id 1, got %d (%v)", turn.ID, err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	src := []types.Citation{{Source: "NEJM", Page: "4"}}
	if _, err := s.CreateMessage(ctx, Message{Role: types.RoleAssistant, Content: "a", Citations: src}); err != nil {
		t.Fatalf("create: %v", err)
	}
	src[0].Source = "mutated"

	msgs, _ := s.GetMessages(ctx)
	msgs[0].Citations[0].Page = "99"
	msgs[0].Content = "changed"

	again, _ := s.GetMessages(ctx)
	if again[0].Citations[0].Source != "NEJM" || again[0].Citations[0].Page != "4" {
		t.Fatalf("store shares citation slice with callers: %+v", again[0].Citations)
	}
	if again[0].Content != "a" {
		t.Fatalf("store shares turns with callers")
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateMessage(ctx, Message{Role: types.RoleUser, Content: "q"}); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, _ := s.GetMessages(ctx)
	if len(msgs) != n {
		t.Fatalf("expected %d turns, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.ID != int64(i+1) {
			t.Fatalf("expected ids in insertion order, got %d at %d", m.ID, i)
		}
	}
}
