package cloudocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const azureMaxBytes = 4 << 20

// AzureVision uses the Computer Vision printed-text OCR operation.
type AzureVision struct {
	key      string
	endpoint string
	client   *computervision.BaseClient
	logger   *slog.Logger
}

func NewAzureVision(key, endpoint string, logger *slog.Logger) *AzureVision {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AzureVision{key: key, endpoint: endpoint, logger: logger}
	if p.Configured() {
		client := computervision.New(endpoint)
		client.Authorizer = autorest.NewCognitiveServicesAuthorizer(key)
		// only the compression loop retries
		client.RetryAttempts = 1
		p.client = &client
	}
	return p
}

func (p *AzureVision) Name() string                 { return "azure-vision" }
func (p *AzureVision) Configured() bool             { return p.key != "" && p.endpoint != "" }
func (p *AzureVision) MaxPayloadBytes() int         { return azureMaxBytes }
func (p *AzureVision) Accepts(mimeType string) bool { return isImage(mimeType) }
func (p *AzureVision) Languages() []string          { return []string{"ar", "en", "unk"} }

func (p *AzureVision) Recognize(ctx context.Context, payload Payload, lang string) (Recognition, error) {
	if p.client == nil {
		return Recognition{}, fmt.Errorf("azure-vision: %w: not configured", common.ErrProviderUnavailable)
	}
	result, err := p.client.RecognizePrintedTextInStream(ctx, true,
		io.NopCloser(bytes.NewReader(payload.Data)), azureLanguage(lang))
	if err != nil {
		return Recognition{}, fmt.Errorf("azure-vision: %w: %v", common.ErrProviderUnavailable, err)
	}
	return Recognition{Text: azureText(result)}, nil
}

func azureLanguage(lang string) computervision.OcrLanguages {
	switch lang {
	case "ar":
		return computervision.OcrLanguagesAr
	case "en":
		return computervision.OcrLanguagesEn
	}
	return computervision.OcrLanguagesUnk
}

// azureText joins words per line and lines per region.
func azureText(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var lines []string
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, w := range *line.Words {
				if w.Text != nil {
					words = append(words, *w.Text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return strings.Join(lines, "\n")
}
