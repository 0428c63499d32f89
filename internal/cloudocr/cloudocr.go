// Package cloudocr calls external recognition services in priority order,
// fitting payloads under each provider's size limit and degrading to setup
// guidance when nothing is configured or reachable.
package cloudocr

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Payload is the file sent to a provider.
type Payload struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Recognition is a provider answer. Reported is false when the provider
// gives no confidence of its own.
type Recognition struct {
	Text       string
	Confidence float64
	Reported   bool
}

// Provider is one cloud recognition service.
type Provider interface {
	Name() string
	Configured() bool
	MaxPayloadBytes() int
	Accepts(mimeType string) bool
	Languages() []string
	Recognize(ctx context.Context, p Payload, lang string) (Recognition, error)
}

type Config struct {
	OCRSpaceAPIKey       string
	OCRSpaceEndpoint     string
	GoogleVisionAPIKey   string
	GoogleVisionEndpoint string
	AzureVisionKey       string
	AzureVisionEndpoint  string

	Timeout              time.Duration // per request, default 30s
	MaxCompressionPasses int           // default 4
	HTTPClient           *http.Client
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxCompressionPasses <= 0 {
		c.MaxCompressionPasses = 4
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// NewProviders builds the default priority list: OCR.space, Google Cloud
// Vision, Azure Computer Vision. Unconfigured providers stay in the list and
// are skipped at call time.
func NewProviders(cfg Config, logger *slog.Logger) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return []Provider{
		NewOCRSpace(cfg.OCRSpaceAPIKey, cfg.OCRSpaceEndpoint, cfg.HTTPClient, logger),
		NewGoogleVision(cfg.GoogleVisionAPIKey, cfg.GoogleVisionEndpoint, cfg.HTTPClient, logger),
		NewAzureVision(cfg.AzureVisionKey, cfg.AzureVisionEndpoint, logger),
	}
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

func isPDF(mimeType string) bool {
	return strings.EqualFold(mimeType, "application/pdf")
}
