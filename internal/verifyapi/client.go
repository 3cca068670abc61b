// Package verifyapi talks to the phone verification service over HTTP.
package verifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phone-login/client/internal/phone"
	"phone-login/client/internal/verification/domain"
)

const (
	// DefaultBaseURL is the local development verification service.
	DefaultBaseURL = "http://localhost:5000"
	defaultTimeout = 15 * time.Second

	sendPath   = "/api/send-verification"
	verifyPath = "/api/verify-code"

	// maxErrorBody caps how much of a failed response is read for the error message.
	maxErrorBody = 64 << 10
)

// ServiceError is a non-2xx answer from the verification service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("verifyapi: status %d", e.Status)
	}
	return fmt.Sprintf("verifyapi: status %d: %s", e.Status, e.Message)
}

// ServiceMessage returns the message the service put in its error body, if any.
func (e *ServiceError) ServiceMessage() string { return e.Message }

// Client calls the verification service's send and verify endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

type verifyResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	User    json.RawMessage `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequestCode asks the service to deliver a code to p.
func (c *Client) RequestCode(ctx context.Context, p phone.Number) error {
	resp, err := c.post(ctx, sendPath, sendRequest{PhoneNumber: p.String()})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// VerifyCode submits code for p. A 2xx answer always yields a result; success false means
// the code was rejected.
func (c *Client) VerifyCode(ctx context.Context, p phone.Number, code string) (*domain.VerifyResult, error) {
	resp, err := c.post(ctx, verifyPath, verifyRequest{PhoneNumber: p.String(), Code: code})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("verifyapi: decode verify response: %w", err)
	}
	return &domain.VerifyResult{
		Success: body.Success,
		Message: body.Message,
		Payload: body.User,
	}, nil
}

// post sends body as JSON. Non-2xx responses are returned as *ServiceError with the body closed.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifyapi: %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &ServiceError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return resp, nil
}

func errorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(b) == 0 {
		return ""
	}
	var e errorResponse
	if err := json.Unmarshal(b, &e); err != nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
