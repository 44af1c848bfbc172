package server

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/types"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.GetMessages(r.Context())
	if err != nil {
		logging.ErrorLogger.Error("failed to read message log",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		s.writeContract(w, r, contract.MessagesList, http.StatusInternalServerError, types.ErrorResponse{Message: "Failed to fetch messages"})
		return
	}
	if turns == nil {
		turns = []types.ChatTurn{}
	}
	s.writeContract(w, r, contract.MessagesList, http.StatusOK, turns)
}
