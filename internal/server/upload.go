package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medcite-backend/internal/contract"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/types"
)

const cleanupTimeout = 10 * time.Second

const (
	msgNoFiles      = "No files uploaded"
	msgNoPDFs       = "No valid PDF files found"
	msgUploadFailed = "File upload failed"
)

// handleUpload streams the multipart body part by part, so large PDFs are
// never buffered whole in memory or spooled to disk.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
	reqID := middleware.GetReqID(r.Context())

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeContract(w, r, contract.FilesUpload, http.StatusBadRequest, types.ErrorResponse{Message: msgNoFiles})
		return
	}

	var (
		sawFile  bool
		accepted = []string{}
		keys     []string
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logging.ErrorLogger.Error("reading upload failed", zap.String("request_id", reqID), zap.Error(err))
			s.removeDocuments(r, keys)
			s.writeContract(w, r, contract.FilesUpload, http.StatusInternalServerError, types.ErrorResponse{Message: msgUploadFailed})
			return
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		sawFile = true
		contentType := part.Header.Get("Content-Type")
		if !isPDF(contentType, name) {
			logging.AppLogger.Debug("skipping non-pdf upload", zap.String("file", name), zap.String("content_type", contentType))
			part.Close()
			continue
		}
		key, err := s.storeDocument(r, name, part)
		part.Close()
		if err != nil {
			logging.ErrorLogger.Error("storing upload failed", zap.String("request_id", reqID), zap.String("file", name), zap.Error(err))
			s.removeDocuments(r, keys)
			s.writeContract(w, r, contract.FilesUpload, http.StatusInternalServerError, types.ErrorResponse{Message: msgUploadFailed})
			return
		}
		if key != "" {
			keys = append(keys, key)
		}
		accepted = append(accepted, name)
	}

	if !sawFile {
		s.writeContract(w, r, contract.FilesUpload, http.StatusBadRequest, types.ErrorResponse{Message: msgNoFiles})
		return
	}
	if len(accepted) == 0 {
		s.writeContract(w, r, contract.FilesUpload, http.StatusBadRequest, types.ErrorResponse{Message: msgNoPDFs})
		return
	}
	logging.AppLogger.Info("files uploaded", zap.String("request_id", reqID), zap.Strings("files", accepted))
	s.writeContract(w, r, contract.FilesUpload, http.StatusOK, types.UploadResponse{
		Files:   accepted,
		Message: fmt.Sprintf("Successfully uploaded %d file(s)", len(accepted)),
	})
}

// storeDocument hands the part to object storage when configured and returns
// its key; otherwise the bytes are read and dropped so read errors still
// surface.
func (s *Server) storeDocument(r *http.Request, name string, body io.Reader) (string, error) {
	if s.documents == nil {
		_, err := io.Copy(io.Discard, body)
		return "", err
	}
	start := time.Now()
	key, err := s.documents.PutDocument(r.Context(), name, "application/pdf", body)
	s.metrics.observe(upstreamObjects, start, err)
	if err != nil {
		return "", err
	}
	logging.AppLogger.Debug("upload stored", zap.String("file", name), zap.String("key", key))
	return key, nil
}

// removeDocuments deletes the documents a failed upload already stored. It
// runs after the request context may have been cancelled.
func (s *Server) removeDocuments(r *http.Request, keys []string) {
	if s.documents == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cleanupTimeout)
	defer cancel()
	for _, key := range keys {
		if err := s.documents.RemoveDocument(ctx, key); err != nil {
			logging.ErrorLogger.Error("removing partial upload failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

func isPDF(contentType, filename string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/pdf" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}
