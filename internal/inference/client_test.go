package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medcite-backend/internal/types"
)

func newUpstream(t *testing.T, status int, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAskMapsStringSources(t *testing.T) {
	srv := newUpstream(t, http.StatusOK,
		`{"answer":"Give broad-spectrum antibiotics within one hour.","sources":["surviving_sepsis.pdf","nejm_2017.pdf"],"ragContext":["chunk one"]}`,
		func(r *http.Request) {
			var req askRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Query != "sepsis treatment" {
				t.Errorf("unexpected query %q", req.Query)
			}
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
		})

	ans, err := New(srv.URL, "", time.Second).Ask(context.Background(), "sepsis treatment")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != "Give broad-spectrum antibiotics within one hour." {
		t.Fatalf("unexpected answer %q", ans.Text)
	}
	want := []types.Citation{{Source: "surviving_sepsis.pdf"}, {Source: "nejm_2017.pdf"}}
	if len(ans.Sources) != 2 || ans.Sources[0] != want[0] || ans.Sources[1] != want[1] {
		t.Fatalf("unexpected sources %+v", ans.Sources)
	}
	if len(ans.RAGContext) != 1 || ans.Confidence != "" {
		t.Fatalf("unexpected rag context or confidence: %+v", ans)
	}
}

func TestAskMapsObjectSourcesAndConfidence(t *testing.T) {
	srv := newUpstream(t, http.StatusOK,
		`{"answer":"a","sources":[{"source":"BMJ","page":12,"snippet":"s"},{"source":"NEJM","page":"4","text":"t"}],"confidence":"Medium"}`, nil)

	ans, err := New(srv.URL, "", time.Second).Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Sources[0] != (types.Citation{Source: "BMJ", Page: "12", Snippet: "s"}) {
		t.Fatalf("unexpected first source %+v", ans.Sources[0])
	}
	if ans.Sources[1] != (types.Citation{Source: "NEJM", Page: "4", Snippet: "t"}) {
		t.Fatalf("unexpected second source %+v", ans.Sources[1])
	}
	if ans.Confidence != types.ConfidenceMedium {
		t.Fatalf("expected medium, got %q", ans.Confidence)
	}
	if ans.RAGContext == nil {
		t.Fatalf("rag context should default to an empty slice")
	}
}

func TestAskIgnoresUnknownConfidence(t *testing.T) {
	srv := newUpstream(t, http.StatusOK, `{"answer":"a","confidence":"certain"}`, nil)
	ans, err := New(srv.URL, "", time.Second).Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Confidence != "" {
		t.Fatalf("expected no confidence, got %q", ans.Confidence)
	}
	if len(ans.Sources) != 0 || ans.Sources == nil {
		t.Fatalf("expected empty non-nil sources, got %#v", ans.Sources)
	}
}

func TestAskFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"model crashed"}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode == 500 && se.Body == `{"detail":"model crashed"}`
		}},
		{"not json", http.StatusOK, `<html>`, func(err error) bool { return errors.Is(err, ErrMalformedAnswer) }},
		{"missing answer", http.StatusOK, `{"sources":[]}`, func(err error) bool { return errors.Is(err, ErrMalformedAnswer) }},
		{"bad source", http.StatusOK, `{"answer":"a","sources":[42]}`, func(err error) bool { return errors.Is(err, ErrMalformedAnswer) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newUpstream(t, tc.status, tc.body, nil)
			_, err := New(srv.URL, "", time.Second).Ask(context.Background(), "q")
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestAskTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "", 50*time.Millisecond).Ask(context.Background(), "q"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestAskSendsBearerToken(t *testing.T) {
	srv := newUpstream(t, http.StatusOK, `{"answer":"a"}`, func(r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("expected bearer token, got %q", got)
		}
	})
	if _, err := New(srv.URL, "s3cret", time.Second).Ask(context.Background(), "q"); err != nil {
		t.Fatalf("ask: %v", err)
	}
}
