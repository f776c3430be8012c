package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// DefaultTimeout bounds a single request when Client.HTTP is not set.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in the message.
const maxErrorBody = 512

// Client talks to the entity store and the object-upload service over HTTP.
//
//	POST {BaseURL}/uploads                raw body, Content-Type  -> {"url": "..."}
//	POST {BaseURL}/entities/{collection}  JSON payload            -> {"id": "..."}
//
// Client implements both Uploader and Creator.
type Client struct {
	BaseURL string
	Token   string // optional bearer token
	HTTP    *http.Client
}

// NewClient creates a client with DefaultTimeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

var (
	_ Uploader = (*Client)(nil)
	_ Creator  = (*Client)(nil)
)

type uploadResponse struct {
	URL string `json:"url"`
}

type createResponse struct {
	ID string `json:"id"`
}

// Upload implements Uploader.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	const op = "remote.upload"
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var resp uploadResponse
	if err := c.do(ctx, op, "/uploads", contentType, bytes.NewReader(data), &resp, false); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", syncerr.New(syncerr.CodeServer, op, "response has no url")
	}
	return resp.URL, nil
}

// Create implements Creator.
func (c *Client) Create(ctx context.Context, collection string, payload map[string]any) (string, error) {
	const op = "remote.create"

	body, err := json.Marshal(payload)
	if err != nil {
		return "", syncerr.Wrap(syncerr.CodeValidation, op, fmt.Errorf("encode payload: %w", err))
	}

	var resp createResponse
	path := "/entities/" + url.PathEscape(collection)
	if err := c.do(ctx, op, path, "application/json", bytes.NewReader(body), &resp, true); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", syncerr.New(syncerr.CodeServer, op, "response has no id")
	}
	return resp.ID, nil
}

// do posts body to path and decodes a 2xx response into out. rejectable
// reports whether a 4xx can be a verdict on the payload; see statusError.
func (c *Client) do(ctx context.Context, op, path, contentType string, body io.Reader, out any, rejectable bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return syncerr.Wrap(syncerr.CodeNetwork, op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if key, ok := IdempotencyKey(ctx); ok {
		req.Header.Set("Idempotency-Key", key)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.CodeNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return syncerr.Wrap(syncerr.CodeServer, op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return statusError(op, resp.StatusCode, strings.TrimSpace(string(snippet)), rejectable)
}

// statusError classifies a non-2xx response. With rejectable set, 400, 409 and
// 422 are VALIDATION_ERROR; everything else is retryable SERVER_ERROR. Upload
// bodies are opaque bytes the user cannot edit, so uploads never report
// VALIDATION_ERROR.
func statusError(op string, status int, body string, rejectable bool) error {
	msg := fmt.Sprintf("%d %s", status, http.StatusText(status))
	if body != "" {
		msg += ": " + body
	}
	if !rejectable {
		return syncerr.New(syncerr.CodeServer, op, msg)
	}
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return syncerr.New(syncerr.CodeValidation, op, msg)
	default:
		return syncerr.New(syncerr.CodeServer, op, msg)
	}
}
