package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"medcite-backend/internal/db"
	"medcite-backend/internal/types"
)

func startPostgres(t *testing.T, ctx context.Context) *db.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "medcite",
			"POSTGRES_PASSWORD": "medcite",
			"POSTGRES_DB":       "medcite",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://medcite:medcite@%s:%s/medcite?sslmode=disable", host, port.Port())

	database, err := db.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := database.RunMigrations(ctx, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestDatabaseStore(t *testing.T) {
	ctx := context.Background()
	s := NewDatabaseStore(startPostgres(t, ctx))

	empty, err := s.GetMessages(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil log, got %#v", empty)
	}

	user, err := s.CreateMessage(ctx, Message{Role: types.RoleUser, Content: "sepsis treatment", Citations: []types.Citation{}})
	if err != nil {
		t.Fatalf("create user turn: %v", err)
	}
	assistant, err := s.CreateMessage(ctx, Message{
		Role:       types.RoleAssistant,
		Content:    "Follow surviving sepsis guidelines.",
		Citations:  []types.Citation{{Source: "NEJM", Page: "4", Snippet: "..."}},
		Confidence: types.ConfidenceHigh,
		RAGContext: []string{"ctx"},
	})
	if err != nil {
		t.Fatalf("create assistant turn: %v", err)
	}
	if user.ID != 1 || assistant.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", user.ID, assistant.ID)
	}
	if user.Timestamp.IsZero() || assistant.Timestamp.Before(user.Timestamp) {
		t.Fatalf("unexpected timestamps %v %v", user.Timestamp, assistant.Timestamp)
	}

	if _, err := s.CreateMessage(ctx, Message{Role: "system", Content: "x"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	got, err := s.GetMessages(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	first, second := got[0], got[1]
	if first.ID != 1 || first.Role != types.RoleUser || first.Content != "sepsis treatment" {
		t.Fatalf("unexpected first turn %+v", first)
	}
	if first.Citations != nil || first.RAGContext != nil || first.Confidence != "" {
		t.Fatalf("absent fields should stay null, got %+v", first)
	}
	if second.ID != 2 || second.Confidence != types.ConfidenceHigh {
		t.Fatalf("unexpected second turn %+v", second)
	}
	if len(second.Citations) != 1 || second.Citations[0] != (types.Citation{Source: "NEJM", Page: "4", Snippet: "..."}) {
		t.Fatalf("unexpected citations %+v", second.Citations)
	}
	if len(second.RAGContext) != 1 || second.RAGContext[0] != "ctx" {
		t.Fatalf("unexpected rag context %+v", second.RAGContext)
	}
	if !second.Timestamp.Equal(assistant.Timestamp) {
		t.Fatalf("timestamp changed on read: %v vs %v", second.Timestamp, assistant.Timestamp)
	}
}
