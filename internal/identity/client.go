// Package identity talks to the identity service that owns user
// accounts, plans, and free-usage metadata.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"craftai/pkg/domain"
)

// APIError is a structured error returned by the identity service.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("identity: %s", e.Message)
}

// Client calls the identity service HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an identity service client. apiKey authorizes
// service-to-service calls such as usage metadata updates.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type userPayload struct {
	ID        string `json:"id"`
	Plan      string `json:"plan"`
	FreeUsage int    `json:"free_usage"`
}

// Me resolves the user behind an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (domain.User, error) {
	var payload userPayload
	err := c.doJSON(ctx, http.MethodGet, "/v1/users/me", "Bearer "+accessToken, nil, &payload)
	if err != nil {
		return domain.User{}, err
	}
	return userFromPayload(payload)
}

// SetFreeUsage overwrites the stored free-usage counter for a user.
func (c *Client) SetFreeUsage(ctx context.Context, userID string, freeUsage int) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("identity: user id required")
	}
	body := map[string]int{"free_usage": freeUsage}
	path := "/v1/users/" + userID + "/usage"
	return c.doJSON(ctx, http.MethodPatch, path, "ApiKey "+c.apiKey, body, nil)
}

func userFromPayload(p userPayload) (domain.User, error) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.User{}, errors.New("identity: user payload missing id")
	}
	plan := domain.PlanFree
	if strings.EqualFold(strings.TrimSpace(p.Plan), string(domain.PlanPremium)) {
		plan = domain.PlanPremium
	}
	return domain.User{
		ID:        p.ID,
		Plan:      plan,
		FreeUsage: p.FreeUsage,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, authorization string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
		apiErr.Code = payload.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
