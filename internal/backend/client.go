// Package backend calls the consultation backend for payment capture and
// ratings once a call has ended.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	paymentPath = "/api/payment/capture/"
	ratingPath  = "/api/consultation/rate/"
)

type PaymentRequest struct {
	RoomID string  `json:"roomId"`
	Amount float64 `json:"amount"`
}

type PaymentResponse struct {
	Status string `json:"status"`
}

// Succeeded reports whether the backend accepted the capture.
func (r PaymentResponse) Succeeded() bool {
	return r.Status == "success"
}

type RatingRequest struct {
	RoomID string `json:"roomId"`
	Score  int    `json:"score"`
	Review string `json:"review"`
}

// HTTPError is a non-2xx reply from the backend.
type HTTPError struct {
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend %s: status %d: %s", e.Path, e.Status, e.Body)
}

type Config struct {
	BaseURL    string
	CSRFToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

type Client struct {
	baseURL    string
	csrfToken  string
	httpClient *http.Client
	userAgent  string
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "consult-control-plane/1.0"
	}
	return &Client{baseURL: baseURL, csrfToken: cfg.CSRFToken, httpClient: client, userAgent: ua}, nil
}

// CapturePayment reports the final session cost. Each call carries a fresh
// idempotency key; the caller never retries.
func (c *Client) CapturePayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	var out PaymentResponse
	if err := c.post(ctx, paymentPath, req, &out); err != nil {
		return PaymentResponse{}, err
	}
	return out, nil
}

func (c *Client) SubmitRating(ctx context.Context, req RatingRequest) error {
	return c.post(ctx, ratingPath, req, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("backend: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
