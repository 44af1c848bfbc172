package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/places"
	"medcite-backend/internal/types"
)

const (
	msgHospitalsFailed = "Failed to fetch nearby hospitals"
	defaultRating      = 4.0
)

func (s *Server) handleHospitals(w http.ResponseWriter, r *http.Request) {
	coord, ok := contract.ParseCoordinate(r.URL.Query())
	if !ok {
		s.writeContract(w, r, contract.HospitalsList, http.StatusOK, []types.Hospital{})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PlacesTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.places.Nearby(ctx, coord.Lat, coord.Lng)
	s.metrics.observe(upstreamPlaces, start, err)
	if err != nil {
		logging.ErrorLogger.Error("places search failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		s.writeContract(w, r, contract.HospitalsList, http.StatusInternalServerError, types.ErrorResponse{Message: msgHospitalsFailed})
		return
	}

	s.writeContract(w, r, contract.HospitalsList, http.StatusOK, toHospitals(results, s.cfg.HospitalDistanceLabel))
}

// toHospitals keeps upstream order; ids are 1-based positions.
func toHospitals(results []places.Place, distance string) []types.Hospital {
	out := make([]types.Hospital, 0, len(results))
	for i, p := range results {
		rating := defaultRating
		if p.Rating != nil {
			rating = *p.Rating
		}
		out = append(out, types.Hospital{
			ID:       i + 1,
			Name:     p.Name,
			Rating:   rating,
			Address:  p.Vicinity,
			Distance: distance,
			Lat:      p.Lat,
			Lng:      p.Lng,
		})
	}
	return out
}
