package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/inference"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/store"
	"medcite-backend/internal/types"
)

const (
	msgChatFailed = "Failed to fetch response from AI service"
	maxChatBody   = 1 << 20
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := contract.ChatSend.ValidateInput(body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reqID := middleware.GetReqID(r.Context())
	if _, err := s.store.CreateMessage(r.Context(), store.Message{Role: types.RoleUser, Content: req.Query}); err != nil {
		logging.ErrorLogger.Error("failed to record user message", zap.String("request_id", reqID), zap.Error(err))
		s.writeContract(w, r, contract.ChatSend, http.StatusInternalServerError, types.ErrorResponse{Message: msgChatFailed})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.InferenceTimeout)
	defer cancel()
	defer logging.LogDuration(ctx, "inference.ask")()

	start := time.Now()
	ans, err := s.inference.Ask(ctx, req.Query)
	s.metrics.observe(upstreamInference, start, err)
	if err != nil {
		fields := []zap.Field{zap.String("request_id", reqID), zap.Error(err)}
		var se *inference.StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("upstream_status", se.StatusCode), zap.String("upstream_body", se.Body))
		}
		logging.ErrorLogger.Error("inference call failed", fields...)
		s.writeContract(w, r, contract.ChatSend, http.StatusInternalServerError, types.ErrorResponse{Message: msgChatFailed})
		return
	}

	resp := types.ChatResponse{
		Message:    ans.Text,
		Citations:  ans.Sources,
		Confidence: ans.Confidence,
		RAGContext: ans.RAGContext,
	}
	if resp.Citations == nil {
		resp.Citations = []types.Citation{}
	}
	if resp.RAGContext == nil {
		resp.RAGContext = []string{}
	}
	if !resp.Confidence.Valid() {
		resp.Confidence = s.confidence
	}

	if _, err := s.store.CreateMessage(r.Context(), store.Message{
		Role:       types.RoleAssistant,
		Content:    resp.Message,
		Citations:  resp.Citations,
		Confidence: resp.Confidence,
		RAGContext: resp.RAGContext,
	}); err != nil {
		// the answer is still worth returning
		logging.ErrorLogger.Error("failed to record assistant message", zap.String("request_id", reqID), zap.Error(err))
	}

	s.writeContract(w, r, contract.ChatSend, http.StatusOK, resp)
}
