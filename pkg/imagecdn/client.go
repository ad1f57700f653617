// Package imagecdn talks to the image CDN used for edit transformations.
// Uploaded assets are addressed by ID; derived URLs apply a named
// transformation on delivery.
package imagecdn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Asset identifies an uploaded image and its delivery URL.
type Asset struct {
	ID  string `json:"public_id"`
	URL string `json:"secure_url"`
}

// Delivery transformations supported by the CDN.
const TransformBackgroundRemoval = "e_background_removal"

// TransformRemoveObject derives the generative object-removal transformation.
func TransformRemoveObject(object string) string {
	return "e_gen_remove:" + object
}

// Client calls the CDN upload and delivery API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a CDN client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("cdn base url required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("cdn api key required")
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Upload sends a local image file to the CDN under the given folder.
func (c *Client) Upload(ctx context.Context, path, folder string) (Asset, error) {
	file, err := os.Open(path)
	if err != nil {
		return Asset{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if folder != "" {
			if err := form.WriteField("folder", folder); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image/upload", pr)
	if err != nil {
		return Asset{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Asset{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Asset{}, fmt.Errorf("cdn upload error: %s", errResp.Error.Message)
		}
		return Asset{}, fmt.Errorf("cdn upload error: %s", resp.Status)
	}
	var asset Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return Asset{}, err
	}
	if asset.ID == "" {
		return Asset{}, fmt.Errorf("cdn upload returned no asset id")
	}
	return asset, nil
}

// DeriveURL builds the delivery URL applying a transformation to an asset.
func (c *Client) DeriveURL(id, transformation string) string {
	if transformation == "" {
		return fmt.Sprintf("%s/image/%s", c.baseURL, id)
	}
	return fmt.Sprintf("%s/image/%s/%s", c.baseURL, transformation, id)
}
