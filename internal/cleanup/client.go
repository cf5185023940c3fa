// Package cleanup calls the external watermark-removal service. The service
// is optional: an unconfigured client reports ErrNotConfigured and callers
// decide whether to fall back or abort.
package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/cleanframe/internal/domain"
)

var (
	ErrNotConfigured = errors.New("cleanup service not configured")
	ErrService       = errors.New("cleanup service error")
)

// DefaultTimeout allows for the multi-minute inference calls the removal
// service makes on large images.
const DefaultTimeout = 5 * time.Minute

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type Client struct {
	httpClient *http.Client
	logger     *log.Logger
	endpoint   string
	apiKey     string
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:   logger,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
	}
}

func (c *Client) Configured() bool {
	return c.endpoint != ""
}

// Clean sends one image to the removal service and returns the cleaned
// bytes. Each image is its own call; the service does not batch. A 2xx
// response with an empty body keeps the input image instead of failing the
// item.
func (c *Client) Clean(ctx context.Context, filename string, data []byte, opts domain.CleanupOptions) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, contentType, err := encodeRequest(filename, data, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build cleanup request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serviceError(resp)
	}

	cleaned, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrService, err)
	}
	if len(cleaned) == 0 {
		c.logger.Printf("cleanup returned an empty body for %s, keeping the input image", filename)
		return data, nil
	}
	return cleaned, nil
}

func encodeRequest(filename string, data []byte, opts domain.CleanupOptions) (*bytes.Buffer, string, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "image"
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("build cleanup form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write cleanup image: %w", err)
	}

	fields := map[string]string{
		"inpainting_method":    opts.Method,
		"detection_confidence": strconv.FormatFloat(opts.Confidence, 'f', -1, 64),
		"ocr_enabled":          strconv.FormatBool(opts.OCR),
		"logo_detection":       strconv.FormatBool(opts.Logos),
		"auto_detect":          strconv.FormatBool(opts.AutoDetect),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write cleanup field %s: %w", name, err)
		}
	}
	if len(opts.Regions) > 0 {
		regionsJSON, err := json.Marshal(opts.Regions)
		if err != nil {
			return nil, "", fmt.Errorf("marshal manual regions: %w", err)
		}
		if err := mw.WriteField("manual_regions", string(regionsJSON)); err != nil {
			return nil, "", fmt.Errorf("write cleanup field manual_regions: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finish cleanup form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

func serviceError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			message = apiErr.Message
		case apiErr.Detail != "":
			message = apiErr.Detail
		case apiErr.Error != "":
			message = apiErr.Error
		}
		if apiErr.Code != "" {
			message = apiErr.Code + ": " + message
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: status=%d message=%s", ErrService, resp.StatusCode, message)
}
