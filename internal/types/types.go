package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Confidence is the coarse certainty label attached to an assistant reply.
// The zero value means "absent" and is encoded as JSON null.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// ParseConfidence accepts one of the three levels exactly.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid confidence %q", s)
	}
	return c, nil
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *Confidence) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = Confidence(s)
	return nil
}

// Citation points into retrieved material backing an answer. The snippet
// travels under the "text" key on the wire.
type Citation struct {
	Source  string `json:"source"`
	Page    string `json:"page"`
	Snippet string `json:"text"`
}

// ChatTurn is one entry of the message log.
type ChatTurn struct {
	ID         int64      `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations"`
	Confidence Confidence `json:"confidence"`
	RAGContext []string   `json:"ragContext"`
	Timestamp  time.Time  `json:"timestamp"`
}

type ChatRequest struct {
	Query string `json:"query"`
}

type ChatResponse struct {
	Message    string     `json:"message"`
	Citations  []Citation `json:"citations"`
	Confidence Confidence `json:"confidence"`
	RAGContext []string   `json:"ragContext"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type UploadResponse struct {
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// Hospital is a nearby facility as returned by /api/nearby-hospitals.
// ID is a 1-based position in the upstream result list, not a stable identifier.
type Hospital struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Rating   float64 `json:"rating"`
	Address  string  `json:"address"`
	Distance string  `json:"distance"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TranscriptResponse struct {
	Transcript string `json:"transcript"`
}
