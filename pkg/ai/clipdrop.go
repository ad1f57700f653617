package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultClipDropBaseURL = "https://clipdrop-api.co"

// ClipDropClient calls the ClipDrop text-to-image API.
type ClipDropClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClipDropClient constructs a client. baseURL may be empty for the public API.
func NewClipDropClient(apiKey, baseURL string) (*ClipDropClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("clipdrop api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultClipDropBaseURL
	}
	return &ClipDropClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateImage sends the prompt as a multipart form and returns the PNG bytes.
func (c *ClipDropClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt required")
	}
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("prompt", prompt); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text-to-image/v1", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if len(msg) > 0 {
			return nil, fmt.Errorf("clipdrop api error: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}
		return nil, fmt.Errorf("clipdrop api error: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image from clipdrop")
	}
	return data, nil
}
