package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/types"
)

// transcribeUploadGrace extends the route deadline past the transcription
// deadline so the audio upload is not counted against the upstream call.
const transcribeUploadGrace = 30 * time.Second

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		s.writeContract(w, r, contract.SpeechTranscribe, http.StatusServiceUnavailable, types.ErrorResponse{Message: "Transcription is not configured"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeContract(w, r, contract.SpeechTranscribe, http.StatusBadRequest, types.ErrorResponse{Message: "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeContract(w, r, contract.SpeechTranscribe, http.StatusBadRequest, types.ErrorResponse{Message: "audio file is required (field 'file')"})
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, header.Filename, file)
	s.metrics.observe(upstreamSpeech, start, err)
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		// the route timeout middleware answers 504
		logging.ErrorLogger.Error("transcription request timed out",
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		return
	}
	if err != nil {
		logging.ErrorLogger.Error("transcription failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		s.writeContract(w, r, contract.SpeechTranscribe, http.StatusBadGateway, types.ErrorResponse{Message: "Transcription failed"})
		return
	}
	s.writeContract(w, r, contract.SpeechTranscribe, http.StatusOK, types.TranscriptResponse{Transcript: text})
}
