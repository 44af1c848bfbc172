// Package contract declares every HTTP endpoint of the MedCite API as data:
// method, path, input schema and one response schema per status code. The
// schemas are JSON Schema documents embedded from schemas/. The server and the
// client both validate against these descriptors.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"medcite-backend/internal/types"
)

type Endpoint struct {
	Name   string
	Method string
	Path   string
	// Input is nil when the request body is not validated (multipart).
	Input     *Schema
	Responses map[int]*Schema
}

// ValidateInput checks a raw request payload.
func (e Endpoint) ValidateInput(data []byte) error {
	if e.Input == nil {
		return nil
	}
	return e.tag(e.Input.Validate(data))
}

// ValidateInputValue marshals v and checks it against the input schema.
func (e Endpoint) ValidateInputValue(v any) error {
	if e.Input == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return &ValidationError{Endpoint: e.Name, Reason: fmt.Sprintf("encode input: %v", err)}
	}
	return e.ValidateInput(b)
}

// ValidateResponse checks a raw response body for the given status code.
// Statuses the endpoint does not declare are rejected.
func (e Endpoint) ValidateResponse(status int, data []byte) error {
	s, ok := e.Responses[status]
	if !ok {
		return &ValidationError{Endpoint: e.Name, Reason: fmt.Sprintf("undeclared status %d", status)}
	}
	return e.tag(s.Validate(data))
}

// MarshalResponse encodes v and validates it as the body for status.
func (e Endpoint) MarshalResponse(status int, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: encode response: %w", e.Name, err)
	}
	if err := e.ValidateResponse(status, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (e Endpoint) tag(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		out := *ve
		out.Endpoint = e.Name
		return &out
	}
	return err
}

var errorBody = mustSchema("error.json")

var ChatSend = Endpoint{
	Name:   "chat.send",
	Method: http.MethodPost,
	Path:   "/api/query",
	Input:  mustSchema("chat_send.input.json"),
	Responses: map[int]*Schema{
		http.StatusOK:                  mustSchema("chat_send.200.json"),
		http.StatusBadRequest:          errorBody,
		http.StatusInternalServerError: errorBody,
	},
}

var FilesUpload = Endpoint{
	Name:   "files.upload",
	Method: http.MethodPost,
	Path:   "/api/upload",
	Responses: map[int]*Schema{
		http.StatusOK:                  mustSchema("files_upload.200.json"),
		http.StatusBadRequest:          errorBody,
		http.StatusInternalServerError: errorBody,
	},
}

var HospitalsList = Endpoint{
	Name:   "hospitals.list",
	Method: http.MethodGet,
	Path:   "/api/nearby-hospitals",
	Input:  mustSchema("hospitals_list.input.json"),
	Responses: map[int]*Schema{
		http.StatusOK:                  mustSchema("hospitals_list.200.json"),
		http.StatusInternalServerError: errorBody,
	},
}

var MessagesList = Endpoint{
	Name:   "messages.list",
	Method: http.MethodGet,
	Path:   "/api/messages",
	Responses: map[int]*Schema{
		http.StatusOK:                  mustSchema("messages_list.200.json"),
		http.StatusInternalServerError: errorBody,
	},
}

var SpeechTranscribe = Endpoint{
	Name:   "speech.transcribe",
	Method: http.MethodPost,
	Path:   "/api/transcribe",
	Responses: map[int]*Schema{
		http.StatusOK:                 mustSchema("speech_transcribe.200.json"),
		http.StatusBadRequest:         errorBody,
		http.StatusBadGateway:         errorBody,
		http.StatusServiceUnavailable: errorBody,
	},
}

// Endpoints lists every declared endpoint.
func Endpoints() []Endpoint {
	return []Endpoint{ChatSend, FilesUpload, HospitalsList, MessagesList, SpeechTranscribe}
}

// ParseCoordinate reads lat/lng query parameters. ok is false when either is
// missing or not a finite number.
func ParseCoordinate(q url.Values) (types.Coordinate, bool) {
	lat, ok := parseFinite(q.Get("lat"))
	if !ok {
		return types.Coordinate{}, false
	}
	lng, ok := parseFinite(q.Get("lng"))
	if !ok {
		return types.Coordinate{}, false
	}
	return types.Coordinate{Lat: lat, Lng: lng}, true
}

// CoordinateQuery is the inverse of ParseCoordinate.
func CoordinateQuery(c types.Coordinate) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(c.Lng, 'f', -1, 64))
	return q
}

func parseFinite(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
