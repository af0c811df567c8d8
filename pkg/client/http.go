package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response from one of the backends
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Envelope is the {"data": ...} wrapper every backend response uses
type Envelope[T any] struct {
	Data T `json:"data"`
}

// DoJSON sends in as a JSON body (when non-nil) and decodes a 2xx response into out
func DoJSON(ctx context.Context, hc *http.Client, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errorFromBody(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorFromBody extracts the backend's error message from a failed response
func errorFromBody(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(bodyBytes) == 0 {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok && message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: message}
		}
		if meta, ok := errorResp["meta"].(map[string]interface{}); ok {
			if message, ok := meta["message"].(string); ok && message != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: message}
			}
		}
		if errs, ok := errorResp["errors"]; ok {
			return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("%v", errs)}
		}
	}

	// If we can't parse it, show the raw body
	return &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
}
