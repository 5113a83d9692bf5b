// Package client provides a Go client for a remote source verification
// endpoint.
package client

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

	"golang.org/x/time/rate"
)

// ErrVerificationFailed is returned when the endpoint answers but does not
// report a match.
var ErrVerificationFailed = errors.New("verification failed")

// Client is a verification endpoint client
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// Recompilation on the remote side can take minutes.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithRateLimit paces submissions to perSec requests per second. Zero or
// less disables pacing.
func WithRateLimit(perSec float64, burst int) Option {
	return func(client *Client) {
		if perSec <= 0 {
			client.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// New creates a new verification client. baseURL is the full submission
// URL, e.g. https://sourcify.dev/server/verify.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest is the submission body
type VerifyRequest struct {
	Address string            `json:"address"`
	Chain   string            `json:"chain"`
	Files   map[string]string `json:"files"`
}

// VerifyResult is one entry of the response's result array
type VerifyResult struct {
	Address string `json:"address,omitempty"`
	ChainID string `json:"chainId,omitempty"`
	// Status is "perfect" or "partial"; null means no match.
	Status           *string `json:"status"`
	Message          string  `json:"message,omitempty"`
	StorageTimestamp string  `json:"storageTimestamp,omitempty"`
}

// VerifyResponse is the submission response
type VerifyResponse struct {
	Result []VerifyResult `json:"result"`
}

// Submission is the interpreted result of a successful submission
type Submission struct {
	Status string
	// AlreadyVerified is set when the endpoint already stored a match for
	// this address before the request.
	AlreadyVerified bool
	Message         string
}

// APIError represents a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap makes every API error a verification failure.
func (e *APIError) Unwrap() error {
	return ErrVerificationFailed
}

// Verify submits one contract. A non-2xx response, an empty result or a
// null status is returned as an error wrapping ErrVerificationFailed.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Submission, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var resp VerifyResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrVerificationFailed)
	}
	first := resp.Result[0]
	if first.Status == nil || *first.Status == "" {
		msg := first.Message
		if msg == "" {
			msg = "no match"
		}
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, msg)
	}

	return &Submission{
		Status:          *first.Status,
		AlreadyVerified: first.StorageTimestamp != "",
		Message:         first.Message,
	}, nil
}

func (c *Client) post(ctx context.Context, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrVerificationFailed, err)
		}
	}

	return nil
}

// parseError accepts {"error": "msg"}, {"error": {"message": "msg"}} and
// {"message": "msg"} bodies.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	msg := resp.Status
	if err := json.Unmarshal(body, &errResp); err == nil {
		var s string
		var obj struct {
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(errResp.Error, &s) == nil && s != "":
			msg = s
		case json.Unmarshal(errResp.Error, &obj) == nil && obj.Message != "":
			msg = obj.Message
		case errResp.Message != "":
			msg = errResp.Message
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
