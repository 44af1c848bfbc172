package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/types"
)

type hospitalKey struct {
	enabled bool
	lat     float64
	lng     float64
}

// HospitalFinder fetches nearby hospitals and remembers successful results
// per coordinate for the life of the finder.
type HospitalFinder struct {
	client *Client

	mu    sync.Mutex
	cache map[hospitalKey][]types.Hospital
}

func NewHospitalFinder(c *Client) *HospitalFinder {
	return &HospitalFinder{client: c, cache: make(map[hospitalKey][]types.Hospital)}
}

// Nearby returns (nil, nil) when disabled and ErrLocationMissing when enabled
// without a coordinate; neither makes a request.
func (h *HospitalFinder) Nearby(ctx context.Context, enabled bool, coord *types.Coordinate) ([]types.Hospital, error) {
	if !enabled {
		return nil, nil
	}
	if coord == nil {
		return nil, ErrLocationMissing
	}
	if err := contract.HospitalsList.ValidateInputValue(coord); err != nil {
		return nil, err
	}

	key := hospitalKey{enabled: enabled, lat: coord.Lat, lng: coord.Lng}
	h.mu.Lock()
	cached, ok := h.cache[key]
	h.mu.Unlock()
	if ok {
		return append([]types.Hospital(nil), cached...), nil
	}

	status, body, err := h.client.call(ctx, contract.HospitalsList, contract.CoordinateQuery(*coord).Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHospitalsFailed, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrHospitalsFailed, status, serverMessage(body))
	}
	var hospitals []types.Hospital
	if err := decode(contract.HospitalsList, status, body, &hospitals); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHospitalsFailed, err)
	}

	h.mu.Lock()
	h.cache[key] = hospitals
	h.mu.Unlock()
	return append([]types.Hospital(nil), hospitals...), nil
}
