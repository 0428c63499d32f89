package cloudocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const (
	DefaultGoogleVisionEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	googleVisionMaxBytes        = 10 << 20
)

// GoogleVision sends a base64 image to images:annotate with
// DOCUMENT_TEXT_DETECTION. The API key travels as the key query parameter.
type GoogleVision struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewGoogleVision(apiKey, endpoint string, client *http.Client, logger *slog.Logger) *GoogleVision {
	if endpoint == "" {
		endpoint = DefaultGoogleVisionEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleVision{apiKey: apiKey, endpoint: endpoint, client: client, logger: logger}
}

func (p *GoogleVision) Name() string                 { return "google-vision" }
func (p *GoogleVision) Configured() bool             { return p.apiKey != "" }
func (p *GoogleVision) MaxPayloadBytes() int         { return googleVisionMaxBytes }
func (p *GoogleVision) Accepts(mimeType string) bool { return isImage(mimeType) }

// Languages are comma-separated hint lists.
func (p *GoogleVision) Languages() []string { return []string{"ar,en", "en"} }

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
	Features     []visionFeature `json:"features"`
	ImageContext struct {
		LanguageHints []string `json:"languageHints,omitempty"`
	} `json:"imageContext"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text  string `json:"text"`
			Pages []struct {
				Confidence float64 `json:"confidence"`
			} `json:"pages"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

func (p *GoogleVision) Recognize(ctx context.Context, payload Payload, lang string) (Recognition, error) {
	var ir visionImageRequest
	ir.Image.Content = base64.StdEncoding.EncodeToString(payload.Data)
	ir.Features = []visionFeature{{Type: "DOCUMENT_TEXT_DETECTION"}}
	for _, h := range strings.Split(lang, ",") {
		if h = strings.TrimSpace(h); h != "" {
			ir.ImageContext.LanguageHints = append(ir.ImageContext.LanguageHints, h)
		}
	}
	bs, err := json.Marshal(visionRequest{Requests: []visionImageRequest{ir}})
	if err != nil {
		return Recognition{}, fmt.Errorf("google-vision: encode json: %w", err)
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return Recognition{}, fmt.Errorf("google-vision: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", p.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(bs))
	if err != nil {
		return Recognition{}, fmt.Errorf("google-vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := send(p.client, req, p.Name(), p.logger)
	if err != nil {
		return Recognition{}, err
	}

	var resp visionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Recognition{}, fmt.Errorf("google-vision: %w: decode response: %v", common.ErrProviderUnavailable, err)
	}
	if len(resp.Responses) == 0 {
		return Recognition{}, nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return Recognition{}, fmt.Errorf("google-vision: %w: %d %s", common.ErrProviderUnavailable, r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return Recognition{}, nil
	}
	out := Recognition{Text: strings.TrimSpace(r.FullTextAnnotation.Text)}
	if n := len(r.FullTextAnnotation.Pages); n > 0 {
		var sum float64
		for _, pg := range r.FullTextAnnotation.Pages {
			sum += pg.Confidence
		}
		// page confidence is 0..1
		out.Confidence = sum / float64(n) * 100
		out.Reported = out.Confidence > 0
	}
	return out, nil
}
