package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"medcite-backend/internal/config"
	"medcite-backend/internal/contract"
	"medcite-backend/internal/db"
	"medcite-backend/internal/inference"
	"medcite-backend/internal/logging"
	"medcite-backend/internal/objectstore"
	"medcite-backend/internal/places"
	"medcite-backend/internal/speech"
	"medcite-backend/internal/store"
	"medcite-backend/internal/types"
)

// Asker answers a chat question.
type Asker interface {
	Ask(ctx context.Context, query string) (*inference.Answer, error)
}

// PlaceFinder searches for facilities around a coordinate.
type PlaceFinder interface {
	Nearby(ctx context.Context, lat, lng float64) ([]places.Place, error)
}

// DocumentSink receives the bytes of every accepted upload. RemoveDocument
// rolls back stored documents when a later part of the same upload fails.
type DocumentSink interface {
	PutDocument(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
	RemoveDocument(ctx context.Context, key string) error
}

type Server struct {
	router      *chi.Mux
	cfg         config.Config
	store       store.MessageStore
	inference   Asker
	places      PlaceFinder
	transcriber speech.Transcriber
	documents   DocumentSink
	database    *db.DB
	registry    *prometheus.Registry
	metrics     *metrics
	confidence  types.Confidence
}

type Option func(*Server)

func WithStore(ms store.MessageStore) Option { return func(s *Server) { s.store = ms } }

func WithInference(a Asker) Option { return func(s *Server) { s.inference = a } }

func WithPlaces(p PlaceFinder) Option { return func(s *Server) { s.places = p } }

func WithTranscriber(t speech.Transcriber) Option { return func(s *Server) { s.transcriber = t } }

func WithDocumentSink(d DocumentSink) Option { return func(s *Server) { s.documents = d } }

// NewServer wires the router and every upstream. Options override the
// defaults built from cfg.
func NewServer(cfg config.Config, opts ...Option) (*Server, error) {
	confidence, err := types.ParseConfidence(cfg.DefaultConfidence)
	if err != nil {
		return nil, fmt.Errorf("default confidence: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		registry:   reg,
		metrics:    newMetrics(reg),
		confidence: confidence,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.store == nil {
		if err := s.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if s.inference == nil {
		s.inference = inference.New(cfg.InferenceURL, cfg.InferenceAPIToken, cfg.InferenceTimeout)
	}
	if s.places == nil {
		s.places = places.New(places.Options{
			BaseURL: cfg.PlacesURL,
			APIKey:  cfg.GoogleMapsKey,
			Radius:  cfg.PlacesRadius,
			Type:    cfg.PlacesType,
			Timeout: cfg.PlacesTimeout,
		})
	}
	if s.transcriber == nil && cfg.OpenAIAPIKey != "" {
		s.transcriber = speech.NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.STTModel)
	}
	if s.documents == nil && cfg.MinIOEnabled() {
		ms, err := objectstore.NewMinIOStore(ctx, objectstore.Options{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		s.documents = ms
		logging.AppLogger.Info("uploads are copied to object storage", zap.String("bucket", cfg.MinIOBucket))
	}

	s.routes()
	return s, nil
}

func (s *Server) openStore(ctx context.Context) error {
	switch {
	case s.cfg.DatabaseURL != "":
		database, err := db.New(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.RunMigrations(ctx, s.cfg.MigrationsDir); err != nil {
			database.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logging.AppLogger.Info("message log stored in postgres")
		s.database = database
		s.store = store.NewDatabaseStore(database)
	case s.cfg.MessageLogFile != "":
		fs, err := store.OpenFileStore(s.cfg.MessageLogFile)
		if err != nil {
			return fmt.Errorf("failed to open message log: %w", err)
		}
		logging.AppLogger.Info("message log stored on disk", zap.String("path", s.cfg.MessageLogFile))
		s.store = fs
	default:
		logging.AppLogger.Warn("DB_URL and MESSAGE_LOG_FILE not set, message log is in-memory only")
		s.store = store.NewMemoryStore()
	}
	return nil
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.RequestMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Use(s.metrics.instrument)
		handle(r, contract.ChatSend, s.handleChat)
		handle(r, contract.FilesUpload, s.handleUpload)
		handle(r, contract.HospitalsList, s.handleHospitals)
		handle(r, contract.MessagesList, s.handleMessages)
	})
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.TranscribeTimeout + transcribeUploadGrace))
		r.Use(s.metrics.instrument)
		handle(r, contract.SpeechTranscribe, s.handleTranscribe)
	})

	if s.cfg.StaticDir != "" {
		s.router.Handle("/*", spaHandler(s.cfg.StaticDir))
	}
}

// handle mounts h at the method and path its endpoint descriptor declares.
func handle(r chi.Router, ep contract.Endpoint, h http.HandlerFunc) {
	r.Method(ep.Method, ep.Path, h)
}

func (s *Server) Router() http.Handler { return s.router }

// Close releases the database connection, if any.
func (s *Server) Close() error {
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.database != nil {
		if err := s.database.HealthCheck(r.Context()); err != nil {
			logging.ErrorLogger.Error("database health check failed", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// writeContract encodes v, checks it against the schema ep declares for
// status and writes it. A body that does not conform is never sent.
func (s *Server) writeContract(w http.ResponseWriter, r *http.Request, ep contract.Endpoint, status int, v any) {
	b, err := ep.MarshalResponse(status, v)
	if err != nil {
		logging.ErrorLogger.Error("response failed contract check",
			zap.String("endpoint", ep.Name),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Message: msg})
}

// spaHandler serves files from dir and falls back to index.html so
// client-side routes survive a reload.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		p := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
