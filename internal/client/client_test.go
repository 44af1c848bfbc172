package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"medcite-backend/internal/config"
	"medcite-backend/internal/contract"
	"medcite-backend/internal/server"
	"medcite-backend/internal/store"
	"medcite-backend/internal/types"
)

func stubAPI(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), &hits
}

func TestSendChatValidatesBeforeIO(t *testing.T) {
	c, hits := stubAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	for _, q := range []string{"", "   "} {
		_, err := c.SendChat(context.Background(), q)
		if !errors.Is(err, contract.ErrValidation) {
			t.Fatalf("%q: expected ErrValidation, got %v", q, err)
		}
		if errors.Is(err, ErrChatFailed) {
			t.Fatalf("%q: validation error must not be a chat failure", q)
		}
	}
	if *hits != 0 {
		t.Fatalf("expected no requests, got %d", *hits)
	}
}

func TestSendChatFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"Failed to fetch response from AI service"}`))
		},
		"schema mismatch": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"message":"m","citations":[],"confidence":"certain","ragContext":[]}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c, hits := stubAPI(t, h)
			resp, err := c.SendChat(context.Background(), "sepsis treatment")
			if !errors.Is(err, ErrChatFailed) {
				t.Fatalf("expected ErrChatFailed, got %v", err)
			}
			if errors.Is(err, contract.ErrValidation) {
				t.Fatalf("server payload problems must not look like input validation")
			}
			if resp != nil {
				t.Fatalf("expected no partial data")
			}
			if *hits != 1 {
				t.Fatalf("expected exactly one request (no retry), got %d", *hits)
			}
		})
	}
}

func TestFallbackTurn(t *testing.T) {
	turn := FallbackTurn()
	if turn.Confidence != types.ConfidenceLow || turn.Message != FallbackMessage {
		t.Fatalf("unexpected fallback %+v", turn)
	}
	b, err := contract.ChatSend.MarshalResponse(http.StatusOK, turn)
	if err != nil {
		t.Fatalf("fallback should satisfy the chat schema: %v (%s)", err, b)
	}
}

func TestHospitalFinderStates(t *testing.T) {
	c, hits := stubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	f := NewHospitalFinder(c)

	got, err := f.Nearby(context.Background(), false, &types.Coordinate{Lat: 1, Lng: 2})
	if got != nil || err != nil {
		t.Fatalf("disabled finder should return nothing, got %v %v", got, err)
	}
	if _, err := f.Nearby(context.Background(), true, nil); !errors.Is(err, ErrLocationMissing) {
		t.Fatalf("expected ErrLocationMissing, got %v", err)
	}
	if *hits != 0 {
		t.Fatalf("expected no requests, got %d", *hits)
	}
}

func TestHospitalFinderCachesByCoordinate(t *testing.T) {
	c, hits := stubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/nearby-hospitals" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		lat := r.URL.Query().Get("lat")
		_, _ = w.Write([]byte(`[{"id":1,"name":"General ` + lat + `","rating":4,"address":"a","distance":"Nearby","lat":1,"lng":2}]`))
	})
	f := NewHospitalFinder(c)
	ctx := context.Background()

	first, err := f.Nearby(ctx, true, &types.Coordinate{Lat: 51.5, Lng: -0.12})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	second, err := f.Nearby(ctx, true, &types.Coordinate{Lat: 51.5, Lng: -0.12})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if *hits != 1 {
		t.Fatalf("expected cached second call, got %d requests", *hits)
	}
	if first[0] != second[0] || first[0].Name != "General 51.5" {
		t.Fatalf("unexpected results %+v %+v", first, second)
	}

	if _, err := f.Nearby(ctx, true, &types.Coordinate{Lat: 48.85, Lng: 2.35}); err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if *hits != 2 {
		t.Fatalf("new coordinate should fetch, got %d requests", *hits)
	}
}

func TestHospitalFinderDoesNotCacheFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	c, hits := stubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"Failed to fetch nearby hospitals"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	f := NewHospitalFinder(c)
	coord := &types.Coordinate{Lat: 1, Lng: 1}

	if _, err := f.Nearby(context.Background(), true, coord); !errors.Is(err, ErrHospitalsFailed) {
		t.Fatalf("expected ErrHospitalsFailed, got %v", err)
	}
	fail.Store(false)
	if _, err := f.Nearby(context.Background(), true, coord); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if *hits != 2 {
		t.Fatalf("expected 2 requests, got %d", *hits)
	}
}

// TestEndToEnd runs the real server against a stub inference service.
func TestEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Follow surviving sepsis guidelines.","sources":[{"source":"NEJM","page":"4","text":"..."}]}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.InferenceURL = upstream.URL
	cfg.InferenceTimeout = 2 * time.Second
	srv, err := server.NewServer(cfg, server.WithStore(store.NewMemoryStore()))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	api := httptest.NewServer(srv.Router())
	defer api.Close()
	c := New(api.URL)
	ctx := context.Background()

	resp, err := c.SendChat(ctx, "sepsis treatment")
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if resp.Message != "Follow surviving sepsis guidelines." || resp.Confidence != types.ConfidenceHigh {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].Snippet != "..." || len(resp.RAGContext) != 0 {
		t.Fatalf("unexpected citations %+v", resp)
	}

	dir := t.TempDir()
	pdf := filepath.Join(dir, "report.pdf")
	docx := filepath.Join(dir, "notes.docx")
	for _, p := range []string{pdf, docx} {
		if err := os.WriteFile(p, []byte("content"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	up, err := c.Upload(ctx, []string{pdf, docx})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(up.Files) != 1 || up.Files[0] != "report.pdf" || up.Message != "Successfully uploaded 1 file(s)" {
		t.Fatalf("unexpected upload response %+v", up)
	}

	if _, err := c.Upload(ctx, []string{docx}); !errors.Is(err, ErrUploadFailed) || !strings.Contains(err.Error(), "No valid PDF files found") {
		t.Fatalf("expected pdf rejection, got %v", err)
	}

	history, err := c.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Role != types.RoleUser || history[1].Role != types.RoleAssistant {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestUploadMissingFile(t *testing.T) {
	c, _ := stubAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"No files uploaded"}`))
	})
	if _, err := c.Upload(context.Background(), []string{filepath.Join(t.TempDir(), "absent.pdf")}); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}
