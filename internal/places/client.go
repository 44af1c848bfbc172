// Package places wraps the Google Places nearby search.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Place is one search result. Rating is nil when the listing has none.
type Place struct {
	Name     string
	Rating   *float64
	Vicinity string
	Lat      float64
	Lng      float64
}

// StatusError reports a non-2xx HTTP status or a Places status other than
// OK/ZERO_RESULTS.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("places api status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("places api returned %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL string
	APIKey  string
	Radius  int
	Type    string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	opts       Options
}

func New(opts Options) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

type nearbyResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Name     string   `json:"name"`
		Rating   *float64 `json:"rating"`
		Vicinity string   `json:"vicinity"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Nearby returns results around (lat, lng) in the order the API ranked them.
func (c *Client) Nearby(ctx context.Context, lat, lng float64) ([]Place, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("places url: %w", err)
	}
	q := u.Query()
	q.Set("location", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(c.opts.Radius))
	q.Set("type", c.opts.Type)
	q.Set("key", c.opts.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the request URL carries the API key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("places request: %w", uerr.Err)
		}
		return nil, fmt.Errorf("places request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	var out nearbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode places response: %w", err)
	}
	switch out.Status {
	case "OK", "ZERO_RESULTS":
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: out.Status, Message: out.ErrorMessage}
	}

	places := make([]Place, 0, len(out.Results))
	for _, r := range out.Results {
		places = append(places, Place{
			Name:     r.Name,
			Rating:   r.Rating,
			Vicinity: r.Vicinity,
			Lat:      r.Geometry.Location.Lat,
			Lng:      r.Geometry.Location.Lng,
		})
	}
	return places, nil
}
