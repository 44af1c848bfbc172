package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medcite-backend/internal/types"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message is the caller-supplied part of a chat turn; the store assigns the
// id and timestamp.
type Message struct {
	Role       types.Role
	Content    string
	Citations  []types.Citation
	Confidence types.Confidence
	RAGContext []string
}

// MessageStore is the append-only chat log.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) (types.ChatTurn, error)
	GetMessages(ctx context.Context) ([]types.ChatTurn, error)
}

// newTurn validates msg and builds the turn the store will persist. Empty
// optional collections are dropped so they read back as absent.
func newTurn(id int64, msg Message, now time.Time) (types.ChatTurn, error) {
	if !msg.Role.Valid() {
		return types.ChatTurn{}, fmt.Errorf("%w: role %q", ErrInvalidMessage, msg.Role)
	}
	if msg.Confidence != "" && !msg.Confidence.Valid() {
		return types.ChatTurn{}, fmt.Errorf("%w: confidence %q", ErrInvalidMessage, msg.Confidence)
	}
	turn := types.ChatTurn{
		ID:         id,
		Role:       msg.Role,
		Content:    msg.Content,
		Confidence: msg.Confidence,
		Timestamp:  now,
	}
	if len(msg.Citations) > 0 {
		turn.Citations = append([]types.Citation(nil), msg.Citations...)
	}
	if len(msg.RAGContext) > 0 {
		turn.RAGContext = append([]string(nil), msg.RAGContext...)
	}
	return turn, nil
}

func cloneTurns(turns []types.ChatTurn) []types.ChatTurn {
	out := make([]types.ChatTurn, len(turns))
	for i, t := range turns {
		if t.Citations != nil {
			t.Citations = append([]types.Citation(nil), t.Citations...)
		}
		if t.RAGContext != nil {
			t.RAGContext = append([]string(nil), t.RAGContext...)
		}
		out[i] = t
	}
	return out
}
