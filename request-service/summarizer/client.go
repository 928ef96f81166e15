// Package summarizer calls the text-summarization helper that turns a free
// text issue description into a short issue type such as "Flat Tire".
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrDisabled is returned when no helper URL is configured.
var ErrDisabled = errors.New("summarizer disabled")

// maxSummaryLen bounds what is accepted back from the helper.
const maxSummaryLen = 80

type Client struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the helper at url. An empty url yields a
// client whose calls return ErrDisabled.
func NewClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize returns a short issue type for description.
func (c *Client) Summarize(ctx context.Context, description string) (string, error) {
	ctx, span := otel.Tracer("request-service").Start(ctx, "SummarizerSummarize")
	defer span.End()

	if c.url == "" {
		return "", ErrDisabled
	}

	body, err := json.Marshal(summarizeRequest{Text: description})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to contact summarizer")
		return "", fmt.Errorf("failed to contact summarizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := fmt.Errorf("summarizer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Summarizer error")
		return "", err
	}

	var out summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode summarizer response")
		return "", fmt.Errorf("failed to decode summarizer response: %w", err)
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", errors.New("summarizer returned an empty summary")
	}
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}
	span.SetAttributes(attribute.String("summary", summary))
	c.logger.Debug("Summarized issue description", "summary", summary)
	return summary, nil
}
