package tryon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
)

// maxInlineImages bounds how many images a single generation call carries.
const maxInlineImages = 4

// InlineImage is an image sent inline with the generation prompt.
type InlineImage struct {
	MimeType string
	Data     []byte
}

// Result is the generation outcome: either inline image bytes or a
// text-only fallback when the model declines to produce an image.
type Result struct {
	ImageData []byte
	ImageMime string
	Text      string
}

// Client calls a generateContent-style multimodal image API over plain
// HTTP with a hard timeout and bounded retries.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	log        *zap.Logger
}

type ClientOption func(*Client)

func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient overrides the transport, for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(cfg config.GenerationConfig, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *inlineDataPart `json:"inline_data,omitempty"`
}

type inlineDataPart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt plus inline images and returns the model's
// image or text fallback. Transient failures are retried with exponential
// backoff up to the configured retry budget.
func (c *Client) Generate(ctx context.Context, prompt string, images []InlineImage) (*Result, error) {
	if c.endpoint == "" {
		return nil, apperr.Upstream(fmt.Errorf("generation endpoint is not configured"))
	}
	if len(images) > maxInlineImages {
		images = images[:maxInlineImages]
	}

	parts := make([]generatePart, 0, len(images)+1)
	parts = append(parts, generatePart{Text: prompt})
	for _, img := range images {
		parts = append(parts, generatePart{InlineData: &inlineDataPart{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	body, err := json.Marshal(generateRequest{Contents: []generateContent{{Parts: parts}}})
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, c.model)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			c.log.Warn("generation retry",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, apperr.Upstream(ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, retryable, err := c.doOnce(ctx, url, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, apperr.Upstream(lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string, body []byte) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("generation api status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, false, fmt.Errorf("generation api status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, false, fmt.Errorf("generation api error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, false, fmt.Errorf("generation api returned no candidates")
	}

	result := &Result{}
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, false, fmt.Errorf("generation api returned undecodable image: %w", err)
			}
			result.ImageData = data
			result.ImageMime = part.InlineData.MimeType
		} else if part.Text != "" {
			result.Text += part.Text
		}
	}
	if len(result.ImageData) == 0 && result.Text == "" {
		return nil, false, fmt.Errorf("generation api returned an empty candidate")
	}
	return result, false, nil
}
