package cloudocr

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const maxErrorBody = 512

// send performs req and returns the body of a 2xx response. Transport
// errors, quota responses and other non-2xx statuses all unwrap to
// common.ErrProviderUnavailable.
func send(client *http.Client, req *http.Request, provider string, logger *slog.Logger) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	logger.Info("cloudocr.http.request",
		"req_id", reqID,
		"provider", provider,
		"content_length", req.ContentLength,
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("cloudocr.http.send_error",
			"req_id", reqID, "provider", provider, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w: %w", provider, common.ErrProviderUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %v", provider, common.ErrProviderUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("cloudocr.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %v", provider, common.ErrProviderUnavailable, err)
	}

	logger.Info("cloudocr.http.response",
		"req_id", reqID,
		"provider", provider,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		body := raw
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		reason := "status"
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			reason = "quota or credentials"
		}
		return raw, fmt.Errorf("%s: %w: %s %d: %s", provider, common.ErrProviderUnavailable,
			reason, resp.StatusCode, bytes.TrimSpace(body))
	}
	return raw, nil
}
