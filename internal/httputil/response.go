package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxResponseBytes caps how much of an upstream response body is read.
const MaxResponseBytes = 8 << 20

// StatusError is returned by ReadBody for 4xx and 5xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// ReadBody reads and closes resp.Body. Error statuses become a *StatusError
// carrying a truncated copy of the body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return nil, fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	body, truncated, err := ReadAllWithLimit(resp.Body, MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxResponseBytes)
	}
	return body, nil
}

// DecodeResponse decodes a JSON response into target.
func DecodeResponse(resp *http.Response, target interface{}) error {
	if target == nil {
		if resp.StatusCode >= 400 {
			_, err := ReadBody(resp)
			return err
		}
		defer resp.Body.Close()
		_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBytes))
		return err
	}
	body, err := ReadBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
