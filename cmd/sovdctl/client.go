package main

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

// apiClient is a thin JSON wrapper over one SOVD gateway's HTTP surface,
// grounded in the teacher's cmd/slctl apiClient (bearer token, base URL,
// shared http.Client) minus the refresh-token/tenant concerns this
// single-binary domain has no use for.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// connError marks a failure to reach the gateway at all (DNS, dial,
// timeout) distinct from a well-formed error response, so main can map it
// to exit code 3 (spec.md §6 "3: connection failed").
type connError struct{ err error }

func (e *connError) Error() string { return fmt.Sprintf("connection failed: %v", e.err) }
func (e *connError) Unwrap() error { return e.err }

// apiError is a well-formed SOVD error response. ECU carries the
// ecu-error category specifically (NRC/SID populated), which maps to
// exit code 4; every other category maps to exit code 1 (spec.md §6).
type apiError struct {
	StatusCode int
	Category   string
	Message    string
	ECU        bool
	NRC, SID   byte
}

func (e *apiError) Error() string {
	if e.ECU {
		return fmt.Sprintf("ecu error: %s (NRC 0x%02X, SID 0x%02X)", e.Message, e.NRC, e.SID)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ecuErrorEnvelope struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Parameters struct {
		NRC byte `json:"NRC"`
		SID byte `json:"SID"`
	} `json:"parameters"`
	ErrorSource string `json:"x-errorsource"`
}

// do sends a JSON request and decodes a JSON response into out (if out is
// non-nil). A nil payload sends no body.
func (c *apiClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &connError{err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &connError{err}
	}
	if resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAPIError(status int, raw []byte) error {
	var ecuErr ecuErrorEnvelope
	if err := json.Unmarshal(raw, &ecuErr); err == nil && ecuErr.ErrorCode == "error-response" {
		return &apiError{
			StatusCode: status, Category: "ecu-error", Message: ecuErr.Message,
			ECU: true, NRC: ecuErr.Parameters.NRC, SID: ecuErr.Parameters.SID,
		}
	}
	var generic errorEnvelope
	if err := json.Unmarshal(raw, &generic); err == nil && generic.Error != "" {
		return &apiError{StatusCode: status, Category: generic.Error, Message: generic.Message}
	}
	return &apiError{StatusCode: status, Category: "http-error", Message: strings.TrimSpace(string(raw))}
}

// stream opens a GET request and hands the raw response body to fn one
// line at a time, used by the monitor command to follow a subscription's
// SSE stream without buffering the whole response.
func (c *apiClient) stream(ctx context.Context, path string, fn func(line string) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return &connError{err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, raw)
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 1024)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(string(buf[:idx]), "\r")
				buf = buf[idx+1:]
				if !fn(line) {
					return nil
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return &connError{rerr}
		}
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
