// Package client is the Go counterpart of the browser data hooks: it calls
// the MedCite API and checks every payload against the same endpoint
// descriptors the server uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/types"
)

var (
	ErrChatFailed      = errors.New("chat request failed")
	ErrHospitalsFailed = errors.New("failed to fetch hospitals")
	ErrLocationMissing = errors.New("location not available")
	ErrUploadFailed    = errors.New("upload failed")
	ErrHistoryFailed   = errors.New("failed to fetch messages")
)

// FallbackMessage is shown in place of an answer when a chat request fails.
const FallbackMessage = "I apologize, but I encountered an error accessing the medical database. Please try again or rephrase your query."

// FallbackTurn is the assistant turn a chat UI appends after ErrChatFailed.
func FallbackTurn() types.ChatResponse {
	return types.ChatResponse{
		Message:    FallbackMessage,
		Citations:  []types.Citation{},
		Confidence: types.ConfidenceLow,
		RAGContext: []string{},
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one request against ep and returns the status and body.
func (c *Client) call(ctx context.Context, ep contract.Endpoint, query string, contentType string, body io.Reader) (int, []byte, error) {
	u := c.baseURL + ep.Path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, ep.Method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// decode validates a 2xx body against ep's schema for status and unmarshals it.
func decode(ep contract.Endpoint, status int, body []byte, out any) error {
	if err := ep.ValidateResponse(status, body); err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// serverMessage extracts {message} from an error body, if there is one.
func serverMessage(body []byte) string {
	var e types.ErrorResponse
	if json.Unmarshal(body, &e) == nil {
		return e.Message
	}
	return ""
}

// SendChat asks one question. An empty query fails with a
// contract.ErrValidation error before any request is made; every other
// failure is ErrChatFailed.
func (c *Client) SendChat(ctx context.Context, query string) (*types.ChatResponse, error) {
	in := types.ChatRequest{Query: query}
	if err := contract.ChatSend.ValidateInputValue(in); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	status, body, err := c.call(ctx, contract.ChatSend, "", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChatFailed, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrChatFailed, status, serverMessage(body))
	}
	var resp types.ChatResponse
	if err := decode(contract.ChatSend, status, body, &resp); err != nil {
		// %v keeps a bad server payload from matching ErrValidation
		return nil, fmt.Errorf("%w: %v", ErrChatFailed, err)
	}
	return &resp, nil
}

// Upload sends the files at paths in one multipart request. Filtering is
// left to the server.
func (c *Client) Upload(ctx context.Context, paths []string) (*types.UploadResponse, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files given", ErrUploadFailed)
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(mw, paths))
	}()

	status, body, err := c.call(ctx, contract.FilesUpload, "", mw.FormDataContentType(), pr)
	pr.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, status, serverMessage(body))
	}
	var resp types.UploadResponse
	if err := decode(contract.FilesUpload, status, body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return &resp, nil
}

func writeFiles(mw *multipart.Writer, paths []string) error {
	for _, p := range paths {
		if err := writeFile(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// History returns the server's chat log.
func (c *Client) History(ctx context.Context) ([]types.ChatTurn, error) {
	status, body, err := c.call(ctx, contract.MessagesList, "", "", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryFailed, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrHistoryFailed, status, serverMessage(body))
	}
	var turns []types.ChatTurn
	if err := decode(contract.MessagesList, status, body, &turns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryFailed, err)
	}
	return turns, nil
}
