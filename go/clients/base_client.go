// Package clients holds the HTTP plumbing shared by the REST persistence and
// upload clients.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: API returned status %d (%s): %s",
		e.Method, e.Endpoint, e.StatusCode, strings.ToLower(http.StatusText(e.StatusCode)), e.Body)
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetHTTPClient replaces the underlying client, e.g. with an httptest one.
func (c *BaseClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// MakeRequest sends one request and returns the response body of a 2xx reply.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(responseBody),
		}
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, "", nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, contentType, body)
}

func (c *BaseClient) Put(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPut, endpoint, contentType, body)
}

func (c *BaseClient) Patch(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPatch, endpoint, contentType, body)
}

func (c *BaseClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodDelete, endpoint, "", nil)
}
