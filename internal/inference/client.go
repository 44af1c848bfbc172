// Package inference talks to the external RAG service that answers medical
// research questions. The service owns retrieval and citation generation;
// this client only moves the question out and the answer back.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"medcite-backend/internal/types"
)

var ErrMalformedAnswer = errors.New("malformed inference answer")

// StatusError is returned when the service answers with a non-2xx status.
// Body is a trimmed excerpt meant for logs only.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Body)
}

// Answer is the service reply reshaped into MedCite types. Confidence is empty
// when the service did not send a recognised level.
type Answer struct {
	Text       string
	Sources    []types.Citation
	RAGContext []string
	Confidence types.Confidence
}

type Client struct {
	httpClient *http.Client
	url        string
}

// New builds a client for the ask endpoint at url. A non-empty token is sent
// as a bearer token on every request.
func New(url, token string, timeout time.Duration) *Client {
	hc := &http.Client{}
	if token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}))
	}
	hc.Timeout = timeout
	return &Client{httpClient: hc, url: url}
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer     *string  `json:"answer"`
	Sources    []source `json:"sources"`
	RAGContext []string `json:"ragContext"`
	Confidence *string  `json:"confidence"`
}

// Ask sends one question and waits for the answer.
func (c *Client) Ask(ctx context.Context, query string) (*Answer, error) {
	body, err := json.Marshal(askRequest{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	if out.Answer == nil {
		return nil, fmt.Errorf("%w: missing answer", ErrMalformedAnswer)
	}

	ans := &Answer{
		Text:       *out.Answer,
		Sources:    make([]types.Citation, 0, len(out.Sources)),
		RAGContext: out.RAGContext,
	}
	for _, s := range out.Sources {
		ans.Sources = append(ans.Sources, s.Citation)
	}
	if ans.RAGContext == nil {
		ans.RAGContext = []string{}
	}
	if out.Confidence != nil {
		if conf, err := types.ParseConfidence(strings.ToLower(strings.TrimSpace(*out.Confidence))); err == nil {
			ans.Confidence = conf
		}
	}
	return ans, nil
}

// source accepts either a bare document name or a citation object.
type source struct {
	types.Citation
}

func (s *source) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		s.Citation = types.Citation{Source: name}
		return nil
	}
	var obj struct {
		Source  string          `json:"source"`
		Page    json.RawMessage `json:"page"`
		Text    string          `json:"text"`
		Snippet string          `json:"snippet"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("source must be a string or an object: %w", err)
	}
	page, err := pageString(obj.Page)
	if err != nil {
		return err
	}
	text := obj.Text
	if text == "" {
		text = obj.Snippet
	}
	s.Citation = types.Citation{Source: obj.Source, Page: page, Snippet: text}
	return nil
}

func pageString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("page must be a string or a number")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
