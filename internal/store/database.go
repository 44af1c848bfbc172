package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"medcite-backend/internal/db"
	"medcite-backend/internal/types"
)

// DatabaseStore stores chat turns in the PostgreSQL messages table.
type DatabaseStore struct {
	db *db.DB
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database}
}

// CreateMessage inserts a turn; id and timestamp come from the database.
func (ds *DatabaseStore) CreateMessage(ctx context.Context, msg Message) (types.ChatTurn, error) {
	turn, err := newTurn(0, msg, time.Time{})
	if err != nil {
		return types.ChatTurn{}, err
	}

	citations, err := encodeNullableJSON(turn.Citations)
	if err != nil {
		return types.ChatTurn{}, err
	}
	ragContext, err := encodeNullableJSON(turn.RAGContext)
	if err != nil {
		return types.ChatTurn{}, err
	}
	var confidence sql.NullString
	if turn.Confidence != "" {
		confidence = sql.NullString{String: string(turn.Confidence), Valid: true}
	}

	query := `
		INSERT INTO messages (role, content, citations, confidence, rag_context, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	err = ds.db.QueryRowContext(ctx, query,
		string(turn.Role), turn.Content, citations, confidence, ragContext,
	).Scan(&turn.ID, &turn.Timestamp)
	if err != nil {
		return types.ChatTurn{}, fmt.Errorf("failed to insert message: %w", err)
	}
	turn.Timestamp = turn.Timestamp.UTC()
	return turn, nil
}

// GetMessages returns every turn in insertion order.
func (ds *DatabaseStore) GetMessages(ctx context.Context) ([]types.ChatTurn, error) {
	query := `
		SELECT id, role, content, citations, confidence, rag_context, created_at
		FROM messages
		ORDER BY id ASC
	`
	rows, err := ds.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	turns := []types.ChatTurn{}
	for rows.Next() {
		var (
			turn       types.ChatTurn
			role       string
			citations  []byte
			confidence sql.NullString
			ragContext []byte
		)
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &citations, &confidence, &ragContext, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Role = types.Role(role)
		if confidence.Valid {
			turn.Confidence = types.Confidence(confidence.String)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &turn.Citations); err != nil {
				return nil, fmt.Errorf("failed to decode citations of message %d: %w", turn.ID, err)
			}
		}
		if len(ragContext) > 0 {
			if err := json.Unmarshal(ragContext, &turn.RAGContext); err != nil {
				return nil, fmt.Errorf("failed to decode rag context of message %d: %w", turn.ID, err)
			}
		}
		turn.Timestamp = turn.Timestamp.UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return turns, nil
}

// encodeNullableJSON maps nil slices to SQL NULL and anything else to JSONB text.
func encodeNullableJSON[T any](v []T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message field: %w", err)
	}
	return string(b), nil
}
