// Package remote implements the HTTP client for the remote replica service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client abstracts communication with the remote replica service.
// Implementations must be safe for concurrent use.
type Client interface {
	// Select returns rows of one kind modified at or after since.
	// Row access is scoped server-side to the authenticated user.
	Select(ctx context.Context, kind string, since int64) ([]Row, error)

	// Upsert writes a batch of rows under the authenticated user's id.
	Upsert(ctx context.Context, rows []Row) (*UpsertResponse, error)
}

// Error is a remote replica call failure. StatusCode is zero for transport
// errors (including timeouts).
type Error struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newStatusError(op string, statusCode int, body []byte) *Error {
	msg := ""
	if len(body) > 0 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &Error{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

// HTTPClient implements Client using net/http.
type HTTPClient struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
}

// NewHTTPClient creates a replica service client. token is read per call so
// the auth collaborator can refresh the session underneath it.
func NewHTTPClient(baseURL string, token func() string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("User-Agent", "tether-client/1.0")
}

func (c *HTTPClient) Select(ctx context.Context, kind string, since int64) ([]Row, error) {
	url := fmt.Sprintf("%s/api/v1/records/%s?since=%d", c.baseURL, kind, since)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Operation: "select", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Operation: "select", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newStatusError("select", resp.StatusCode, body)
	}

	var result SelectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Operation: "select", Err: err}
	}

	return result.Rows, nil
}

func (c *HTTPClient) Upsert(ctx context.Context, rows []Row) (*UpsertResponse, error) {
	body, err := json.Marshal(UpsertRequest{Rows: rows})
	if err != nil {
		return nil, &Error{Operation: "upsert", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/records", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Operation: "upsert", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Operation: "upsert", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, newStatusError("upsert", resp.StatusCode, respBody)
	}

	var result UpsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Operation: "upsert", Err: err}
	}

	return &result, nil
}
