// Package gateway talks to the WhatsApp provider: session pairing, QR codes,
// and outbound message delivery.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

var ErrUnauthorized = errors.New("gateway rejected credentials")

// RequestError is a non-2xx gateway response.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Sender is the outbound surface the engine needs. The full Client satisfies
// it; tests substitute a recorder.
type Sender interface {
	SendText(ctx context.Context, instance, to, text string) error
	SendMedia(ctx context.Context, instance, to, url string) error
}

// SessionInfo is the provider's session state after a start call.
type SessionInfo struct {
	Instance string `json:"instance"`
	Status   string `json:"status"`
}

// QRCode is the pairing code for a disconnected instance.
type QRCode struct {
	Instance string `json:"instance"`
	Code     string `json:"code"`
}

// Client is the HTTP client for an Evolution-style gateway. The bearer token
// comes from configuration, never from stored instance records.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "gateway"),
	}
}

// StartSession asks the provider to open (or resume) the instance's session.
func (c *Client) StartSession(ctx context.Context, instance string) (*SessionInfo, error) {
	info := &SessionInfo{}

	err := c.do(ctx, http.MethodPost, "/session/start", map[string]string{"instance": instance}, info)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// QRCode fetches the pairing QR code for an instance awaiting connection.
func (c *Client) QRCode(ctx context.Context, instance string) (*QRCode, error) {
	code := &QRCode{}

	err := c.do(ctx, http.MethodGet, "/session/qr-code?instance="+instance, nil, code)
	if err != nil {
		return nil, err
	}

	return code, nil
}

func (c *Client) SendText(ctx context.Context, instance, to, text string) error {
	payload := map[string]string{"instance": instance, "to": to, "text": text}

	return c.do(ctx, http.MethodPost, "/message/send-text", payload, nil)
}

func (c *Client) SendMedia(ctx context.Context, instance, to, url string) error {
	payload := map[string]string{"instance": instance, "to": to, "url": url}

	return c.do(ctx, http.MethodPost, "/message/send-media", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway payload: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.Error("failed to close gateway response body", "error", err)
		}
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &RequestError{Op: method + " " + path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if result != nil {
		err = json.NewDecoder(resp.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}

	return nil
}
