package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// HTTPClient talks to a remote service served by NewHandler.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
// A zero timeout uses DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Pull implements Client.
func (c *HTTPClient) Pull(ctx context.Context, recordType string, since time.Time) ([]Record, error) {
	q := url.Values{}
	q.Set("type", recordType)
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var records []Record
	if err := c.do(ctx, http.MethodGet, "/v1/records?"+q.Encode(), nil, &records); err != nil {
		return nil, fmt.Errorf("failed to pull %s records: %w", recordType, err)
	}
	return records, nil
}

// Push implements Client.
func (c *HTTPClient) Push(ctx context.Context, rec Record) (string, error) {
	var resp pushResponse
	if err := c.do(ctx, http.MethodPost, "/v1/records", rec, &resp); err != nil {
		return "", fmt.Errorf("failed to push record %s: %w", rec.Key, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to push record %s: %w: empty record id in response", rec.Key, ErrTransient)
	}
	return resp.ID, nil
}

// Delete implements Client. A 404 counts as success.
func (c *HTTPClient) Delete(ctx context.Context, remoteID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/records/"+url.PathEscape(remoteID), nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete record %s: %w", remoteID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to encode request: %v", ErrRejected, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", ErrTransient, err)
		}
		return nil
	}

	return statusError(resp)
}

// statusError classifies a non-2xx response.
func statusError(resp *http.Response) error {
	msg := resp.Status
	var body errorResponse
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest, code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	default:
		return errors.New("unexpected response: " + msg)
	}
}
