package cloudocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const (
	DefaultOCRSpaceEndpoint = "https://api.ocr.space/parse/image"
	ocrSpaceMaxBytes        = 1 << 20
)

// OCRSpace posts a multipart form with the key in the apikey header.
type OCRSpace struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewOCRSpace(apiKey, endpoint string, client *http.Client, logger *slog.Logger) *OCRSpace {
	if endpoint == "" {
		endpoint = DefaultOCRSpaceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRSpace{apiKey: apiKey, endpoint: endpoint, client: client, logger: logger}
}

func (p *OCRSpace) Name() string         { return "ocr.space" }
func (p *OCRSpace) Configured() bool     { return p.apiKey != "" }
func (p *OCRSpace) MaxPayloadBytes() int { return ocrSpaceMaxBytes }
func (p *OCRSpace) Languages() []string  { return []string{"ara", "eng"} }

func (p *OCRSpace) Accepts(mimeType string) bool {
	return isImage(mimeType) || isPDF(mimeType)
}

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText   string `json:"ParsedText"`
		ErrorMessage string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

func (p *OCRSpace) Recognize(ctx context.Context, payload Payload, lang string) (Recognition, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"language":          lang,
		"isOverlayRequired": "false",
		"detectOrientation": "true",
		"scale":             "true",
		"filetype":          ocrSpaceFileType(payload),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Recognition{}, fmt.Errorf("ocr.space: write field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", payloadFilename(payload))
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr.space: form file: %w", err)
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return Recognition{}, fmt.Errorf("ocr.space: form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Recognition{}, fmt.Errorf("ocr.space: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr.space: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("apikey", p.apiKey)

	raw, err := send(p.client, req, p.Name(), p.logger)
	if err != nil {
		return Recognition{}, err
	}

	var resp ocrSpaceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Recognition{}, fmt.Errorf("ocr.space: %w: decode response: %v", common.ErrProviderUnavailable, err)
	}
	if resp.IsErroredOnProcessing {
		return Recognition{}, fmt.Errorf("ocr.space: %w: %s", common.ErrProviderUnavailable, errorMessage(resp.ErrorMessage))
	}
	var parts []string
	for _, r := range resp.ParsedResults {
		if t := strings.TrimSpace(r.ParsedText); t != "" {
			parts = append(parts, t)
		}
	}
	return Recognition{Text: strings.Join(parts, "\n\n")}, nil
}

// errorMessage flattens the ErrorMessage field, which is a string or an
// array of strings depending on the failure.
func errorMessage(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func ocrSpaceFileType(p Payload) string {
	switch strings.ToLower(p.MIMEType) {
	case "application/pdf":
		return "PDF"
	case "image/jpeg", "image/jpg":
		return "JPG"
	case "image/gif":
		return "GIF"
	case "image/bmp":
		return "BMP"
	case "image/tiff":
		return "TIF"
	}
	return "PNG"
}

func payloadFilename(p Payload) string {
	if p.Filename != "" {
		return filepath.Base(p.Filename)
	}
	return "upload." + strings.ToLower(ocrSpaceFileType(p))
}
