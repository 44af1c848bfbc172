package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"medcite-backend/internal/logging"
)

const defaultPlacesURL = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"

type Config struct {
	Port          string
	AllowedOrigin string
	StaticDir     string
	LogDir        string
	LogLevel      string
	// Request bounds every API request, including the upstream call.
	RequestTimeout time.Duration
	MaxUploadMB    int

	// Inference (RAG) service
	InferenceURL      string
	InferenceAPIToken string
	InferenceTimeout  time.Duration
	DefaultConfidence string

	// Google Places
	GoogleMapsKey         string
	PlacesURL             string
	PlacesRadius          int
	PlacesType            string
	PlacesTimeout         time.Duration
	HospitalDistanceLabel string

	// Message log; DB_URL wins over MESSAGE_LOG_FILE, neither means in-memory.
	DatabaseURL    string
	MigrationsDir  string
	MessageLogFile string

	// Optional upload persistence
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// Speech to text
	OpenAIAPIKey      string
	STTModel          string
	TranscribeTimeout time.Duration
}

// fileConfig mirrors Config for the optional YAML overlay. Durations are
// Go duration strings ("45s").
type fileConfig struct {
	Port           string `yaml:"port"`
	AllowedOrigin  string `yaml:"allowed_origin"`
	StaticDir      string `yaml:"static_dir"`
	LogDir         string `yaml:"log_dir"`
	LogLevel       string `yaml:"log_level"`
	RequestTimeout string `yaml:"request_timeout"`
	MaxUploadMB    int    `yaml:"max_upload_mb"`

	Inference struct {
		URL               string `yaml:"url"`
		Timeout           string `yaml:"timeout"`
		DefaultConfidence string `yaml:"default_confidence"`
	} `yaml:"inference"`

	Places struct {
		URL           string `yaml:"url"`
		Radius        int    `yaml:"radius"`
		Type          string `yaml:"type"`
		Timeout       string `yaml:"timeout"`
		DistanceLabel string `yaml:"distance_label"`
	} `yaml:"places"`

	Storage struct {
		MigrationsDir  string `yaml:"migrations_dir"`
		MessageLogFile string `yaml:"message_log_file"`
	} `yaml:"storage"`

	MinIO struct {
		Endpoint string `yaml:"endpoint"`
		Bucket   string `yaml:"bucket"`
		UseSSL   bool   `yaml:"use_ssl"`
	} `yaml:"minio"`

	STTModel   string `yaml:"stt_model"`
	STTTimeout string `yaml:"stt_timeout"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a key.
func Defaults() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "*",
		LogDir:                "./logs",
		LogLevel:              "info",
		RequestTimeout:        90 * time.Second,
		MaxUploadMB:           32,
		InferenceURL:          "http://127.0.0.1:8000/ask",
		InferenceTimeout:      60 * time.Second,
		DefaultConfidence:     "high",
		PlacesURL:             defaultPlacesURL,
		PlacesRadius:          5000,
		PlacesType:            "hospital",
		PlacesTimeout:         10 * time.Second,
		HospitalDistanceLabel: "Nearby",
		MigrationsDir:         "./migrations",
		MinIOBucket:           "medcite-uploads",
		STTModel:              "whisper-1",
		TranscribeTimeout:     180 * time.Second,
	}
}

// Load reads .env, then the YAML file named by MEDCITE_CONFIG (default
// medcite.yaml, optional), then the environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Defaults()
	path := getEnvDefault("MEDCITE_CONFIG", "medcite.yaml")
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WarnMissing logs keys that are empty but needed by some endpoint. Call it
// once logging is initialised.
func (c Config) WarnMissing() {
	if c.GoogleMapsKey == "" {
		logging.AppLogger.Warn("GOOGLE_MAPS_KEY is not set; hospital search will fail until provided")
	}
	if c.OpenAIAPIKey == "" {
		logging.AppLogger.Warn("OPENAI_API_KEY is not set; /api/transcribe will answer 503")
	}
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Port, fc.Port)
	setString(&cfg.AllowedOrigin, fc.AllowedOrigin)
	setString(&cfg.StaticDir, fc.StaticDir)
	setString(&cfg.LogDir, fc.LogDir)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.MaxUploadMB > 0 {
		cfg.MaxUploadMB = fc.MaxUploadMB
	}
	setString(&cfg.InferenceURL, fc.Inference.URL)
	setString(&cfg.DefaultConfidence, fc.Inference.DefaultConfidence)
	setString(&cfg.PlacesURL, fc.Places.URL)
	if fc.Places.Radius > 0 {
		cfg.PlacesRadius = fc.Places.Radius
	}
	setString(&cfg.PlacesType, fc.Places.Type)
	setString(&cfg.HospitalDistanceLabel, fc.Places.DistanceLabel)
	setString(&cfg.MigrationsDir, fc.Storage.MigrationsDir)
	setString(&cfg.MessageLogFile, fc.Storage.MessageLogFile)
	setString(&cfg.MinIOEndpoint, fc.MinIO.Endpoint)
	setString(&cfg.MinIOBucket, fc.MinIO.Bucket)
	if fc.MinIO.UseSSL {
		cfg.MinIOUseSSL = true
	}
	setString(&cfg.STTModel, fc.STTModel)

	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.RequestTimeout, &cfg.RequestTimeout, "request_timeout"},
		{fc.Inference.Timeout, &cfg.InferenceTimeout, "inference.timeout"},
		{fc.Places.Timeout, &cfg.PlacesTimeout, "places.timeout"},
		{fc.STTTimeout, &cfg.TranscribeTimeout, "stt_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvDefault("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnvDefault("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.StaticDir = getEnvDefault("STATIC_DIR", cfg.StaticDir)
	cfg.LogDir = getEnvDefault("LOG_DIR", cfg.LogDir)
	cfg.LogLevel = getEnvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.RequestTimeout = getEnvDurationDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxUploadMB = getEnvIntDefault("MAX_UPLOAD_MB", cfg.MaxUploadMB)

	cfg.InferenceURL = getEnvDefault("INFERENCE_URL", cfg.InferenceURL)
	cfg.InferenceAPIToken = getEnvDefault("INFERENCE_API_TOKEN", cfg.InferenceAPIToken)
	cfg.InferenceTimeout = getEnvDurationDefault("INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	cfg.DefaultConfidence = getEnvDefault("DEFAULT_CONFIDENCE", cfg.DefaultConfidence)

	cfg.GoogleMapsKey = getEnvDefault("GOOGLE_MAPS_KEY", cfg.GoogleMapsKey)
	cfg.PlacesURL = getEnvDefault("PLACES_URL", cfg.PlacesURL)
	cfg.PlacesRadius = getEnvIntDefault("PLACES_RADIUS", cfg.PlacesRadius)
	cfg.PlacesType = getEnvDefault("PLACES_TYPE", cfg.PlacesType)
	cfg.PlacesTimeout = getEnvDurationDefault("PLACES_TIMEOUT", cfg.PlacesTimeout)
	cfg.HospitalDistanceLabel = getEnvDefault("HOSPITAL_DISTANCE_LABEL", cfg.HospitalDistanceLabel)

	cfg.DatabaseURL = getEnvDefault("DB_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getEnvDefault("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.MessageLogFile = getEnvDefault("MESSAGE_LOG_FILE", cfg.MessageLogFile)

	cfg.MinIOEndpoint = getEnvDefault("MINIO_ENDPOINT", cfg.MinIOEndpoint)
	cfg.MinIOAccessKey = getEnvDefault("MINIO_ACCESS_KEY", cfg.MinIOAccessKey)
	cfg.MinIOSecretKey = getEnvDefault("MINIO_SECRET_KEY", cfg.MinIOSecretKey)
	cfg.MinIOBucket = getEnvDefault("MINIO_BUCKET", cfg.MinIOBucket)
	cfg.MinIOUseSSL = getEnvBoolDefault("MINIO_USE_SSL", cfg.MinIOUseSSL)

	cfg.OpenAIAPIKey = getEnvDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.STTModel = getEnvDefault("OPENAI_STT_MODEL", cfg.STTModel)
	cfg.TranscribeTimeout = getEnvDurationDefault("TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	switch c.DefaultConfidence {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("DEFAULT_CONFIDENCE must be low, medium or high, got %q", c.DefaultConfidence)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.InferenceTimeout <= 0 || c.PlacesTimeout <= 0 || c.RequestTimeout <= 0 || c.TranscribeTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	// upstream calls run inside the REQUEST_TIMEOUT route deadline
	if c.InferenceTimeout > c.RequestTimeout || c.PlacesTimeout > c.RequestTimeout {
		return fmt.Errorf("INFERENCE_TIMEOUT (%s) and PLACES_TIMEOUT (%s) must not exceed REQUEST_TIMEOUT (%s)",
			c.InferenceTimeout, c.PlacesTimeout, c.RequestTimeout)
	}
	return nil
}

// MinIOEnabled reports whether uploads should be copied to object storage.
func (c Config) MinIOEnabled() bool {
	return c.MinIOEndpoint != "" && c.MinIOAccessKey != "" && c.MinIOSecretKey != ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			logging.AppLogger.Warn("ignoring invalid integer", zap.String("key", key), zap.String("value", v))
			return def
		}
		return n
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			logging.AppLogger.Warn("ignoring invalid duration", zap.String("key", key), zap.String("value", v))
			return def
		}
		return d
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}
