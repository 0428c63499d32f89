package common

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	OCR        OCRConfig
	Cloud      CloudConfig
	Validation ValidationConfig
	Pipeline   PipelineConfig
	LLM        LLMConfig
	Log        LogConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string // text or json
	Level  string // debug, info, warn, error
}

// DatabaseConfig holds run-store configuration. An empty DSN disables the store.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr       string
	MaxUploadBytes int
	Workers        int
	QueueSize      int
	AllowPaths     bool // accept server-local file paths in Extract requests
}

// OCRConfig holds local OCR and rasterization configuration
type OCRConfig struct {
	Tesseract      string
	Pdftotext      string
	Pdftoppm       string
	Magick         string
	TessdataDir    string
	PrimaryLang    string
	SecondaryLang  string
	DPIs           []int
	MaxPages       int
	MaxPageWorkers int
	WorkDir        string
}

// CloudConfig holds cloud OCR provider credentials and limits
type CloudConfig struct {
	OCRSpaceAPIKey       string
	OCRSpaceEndpoint     string
	GoogleVisionAPIKey   string
	GoogleVisionEndpoint string
	AzureVisionKey       string
	AzureVisionEndpoint  string
	Timeout              time.Duration
	MaxCompressionPasses int
}

// ValidationConfig holds line item validation settings
type ValidationConfig struct {
	Tolerance       float64
	DefaultVATRate  float64
	DefaultCurrency string
	ArabicCurrency  string
}

// PipelineConfig holds orchestrator thresholds
type PipelineConfig struct {
	AcceptConfidence    float64
	MinUsableConfidence float64
	ArabicHeavyRatio    float64
	Timeout             time.Duration
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present; real env vars win.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// malformed .env: keep going with the process environment
		_, _ = os.Stderr.WriteString("config: ignoring .env: " + err.Error() + "\n")
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:       getEnv("GRPC_ADDR", ":8080"),
			MaxUploadBytes: getEnvAsInt("MAX_UPLOAD_BYTES", 25<<20),
			Workers:        getEnvAsInt("QUEUE_WORKERS", 4),
			QueueSize:      getEnvAsInt("QUEUE_SIZE", 256),
			AllowPaths:     getEnvAsBool("ALLOW_PATH_REQUESTS", false),
		},
		OCR: OCRConfig{
			Tesseract:      getEnv("TESSERACT_BIN", "tesseract"),
			Pdftotext:      getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:       getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Magick:         getEnv("MAGICK_BIN", "magick"),
			TessdataDir:    getEnv("TESSDATA_PREFIX", ""),
			PrimaryLang:    getEnv("OCR_PRIMARY_LANG", "ara"),
			SecondaryLang:  getEnv("OCR_SECONDARY_LANG", "eng"),
			DPIs:           getEnvAsIntList("OCR_DPIS", []int{300, 200, 400}),
			MaxPages:       getEnvAsInt("OCR_MAX_PAGES", 20),
			MaxPageWorkers: getEnvAsInt("OCR_PAGE_WORKERS", 4),
			WorkDir:        getEnv("OCR_WORK_DIR", ""),
		},
		Cloud: CloudConfig{
			OCRSpaceAPIKey:       getEnv("OCR_SPACE_API_KEY", ""),
			OCRSpaceEndpoint:     getEnv("OCR_SPACE_ENDPOINT", "https://api.ocr.space/parse/image"),
			GoogleVisionAPIKey:   getEnv("GOOGLE_VISION_API_KEY", ""),
			GoogleVisionEndpoint: getEnv("GOOGLE_VISION_ENDPOINT", "https://vision.googleapis.com/v1/images:annotate"),
			AzureVisionKey:       getEnv("AZURE_VISION_KEY", ""),
			AzureVisionEndpoint:  getEnv("AZURE_VISION_ENDPOINT", ""),
			Timeout:              getEnvAsDuration("CLOUD_OCR_TIMEOUT", 30*time.Second),
			MaxCompressionPasses: getEnvAsInt("CLOUD_OCR_COMPRESSION_PASSES", 4),
		},
		Validation: ValidationConfig{
			Tolerance:       getEnvAsFloat64("LINE_ITEM_TOLERANCE", 0.05),
			DefaultVATRate:  getEnvAsFloat64("DEFAULT_VAT_RATE", 0.15),
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),
			ArabicCurrency:  getEnv("ARABIC_DEFAULT_CURRENCY", "SAR"),
		},
		Pipeline: PipelineConfig{
			AcceptConfidence:    getEnvAsFloat64("ACCEPT_CONFIDENCE", 50),
			MinUsableConfidence: getEnvAsFloat64("MIN_USABLE_CONFIDENCE", 30),
			ArabicHeavyRatio:    getEnvAsFloat64("ARABIC_HEAVY_RATIO", 0.3),
			Timeout:             getEnvAsDuration("PIPELINE_TIMEOUT", 3*time.Minute),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "text"),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsIntList parses "300,200,400". Any bad element falls back to the default.
func getEnvAsIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}

// Validate checks ranges that would otherwise silently misbehave.
func (c *Config) Validate() error {
	v := NewValidator().
		Field("LINE_ITEM_TOLERANCE", c.Validation.Tolerance, FloatRange(0.05, 0.10)).
		Field("DEFAULT_VAT_RATE", c.Validation.DefaultVATRate, FloatRange(0, 1)).
		Field("DEFAULT_CURRENCY", c.Validation.DefaultCurrency, CurrencyCode).
		Field("ARABIC_DEFAULT_CURRENCY", c.Validation.ArabicCurrency, CurrencyCode).
		Field("ACCEPT_CONFIDENCE", c.Pipeline.AcceptConfidence, FloatRange(0, 100)).
		Field("MIN_USABLE_CONFIDENCE", c.Pipeline.MinUsableConfidence, FloatRange(0, 100)).
		Field("OCR_PAGE_WORKERS", c.OCR.MaxPageWorkers, Positive).
		Field("QUEUE_WORKERS", c.Server.Workers, Positive).
		Field("OCR_PRIMARY_LANG", c.OCR.PrimaryLang, Required).
		Field("GRPC_ADDR", c.Server.GRPCAddr, Required)
	if len(c.OCR.DPIs) == 0 {
		v.Field("OCR_DPIS", "", Required)
	}
	if (c.Cloud.AzureVisionKey == "") != (c.Cloud.AzureVisionEndpoint == "") {
		v.errors = append(v.errors, ValidationError{
			Field:   "AZURE_VISION_ENDPOINT",
			Value:   c.Cloud.AzureVisionEndpoint,
			Message: "AZURE_VISION_KEY and AZURE_VISION_ENDPOINT must be set together",
		})
	}
	return v.Err("CONFIG_ERROR")
}
