package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var ErrEmptyTranscript = errors.New("empty transcription")

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// OpenAITranscriber sends audio to the OpenAI transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, model string) *OpenAITranscriber {
	return &OpenAITranscriber{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAITranscriberWithConfig is used when the endpoint is not api.openai.com.
func NewOpenAITranscriberWithConfig(cfg openai.ClientConfig, model string) *OpenAITranscriber {
	return &OpenAITranscriber{client: openai.NewClientWithConfig(cfg), model: model}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	tr, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   audio,
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
