package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
)

// ExtractItems implements llm.ItemExtractor using chat/completions. The page
// image is attached as a vision part when the text confidence is low.
func (c *Client) ExtractItems(ctx context.Context, req llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	if !c.Configured() {
		return llm.InvoiceFields{}, nil, fmt.Errorf("%w: OPENAI_API_KEY not set", common.ErrProviderUnavailable)
	}

	rid := uuid.New().String()
	start := time.Now()

	attach, dataURL, mimeType := llm.ShouldAttachImage(req)
	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"confidence", req.Confidence,
		"arabic", req.IsArabic,
		"image_attached", attach,
		"image_mime", mimeType,
	)

	schema := llm.BuildInvoiceJSONSchema()
	user := llm.BuildUserPrompt(req, attach) + "\n\nReturn ONLY JSON that matches the provided schema."

	var userContent any = user
	if attach {
		userContent = []map[string]any{
			{"type": "text", "text": user},
			{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
		}
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": userContent},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, httpErr := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if httpErr != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "status", status, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.InvoiceFields{}, nil, httpErr
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.InvoiceFields{}, raw, fmt.Errorf("%w: decode openai response: %w", common.ErrProviderUnavailable, err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.InvoiceFields{}, raw, fmt.Errorf("%w: no choices in openai response", common.ErrProviderUnavailable)
	}
	content := []byte(stripFences(cc.Choices[0].Message.Content))

	content, err := c.validate(rid, schema, content)
	if err != nil {
		c.logger.Error("llm.extract.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.InvoiceFields{}, content, err
	}

	var out llm.InvoiceFields
	if err := json.Unmarshal(content, &out); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err)
		return llm.InvoiceFields{}, content, fmt.Errorf("%w: unmarshal fields: %w", common.ErrValidationRejected, err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"invoice_number", out.InvoiceNumber,
		"date", out.InvoiceDate,
		"currency", out.CurrencyCode,
		"items", len(out.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}

// validate checks content strictly and, when lenient, once more after sanitizing.
func (c *Client) validate(rid string, schema map[string]any, content []byte) ([]byte, error) {
	strictErr := llm.ValidateJSONAgainstSchema(schema, content)
	if strictErr == nil {
		return content, nil
	}
	if !c.cfg.LenientOptional {
		return content, fmt.Errorf("%w: schema validation failed: %w", common.ErrValidationRejected, strictErr)
	}

	cleaned, dropped, err := llm.NormalizeAndSanitizeJSON(content, c.logger)
	if err != nil {
		return content, fmt.Errorf("%w: sanitize failed: %w", common.ErrValidationRejected, err)
	}
	if err := llm.ValidateJSONAgainstSchema(schema, cleaned); err != nil {
		return cleaned, fmt.Errorf("%w: schema validation failed: %w", common.ErrValidationRejected, errors.Join(strictErr, err))
	}
	c.logger.Warn("llm.extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
	return cleaned, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite json_object mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
