// Package gateway is a thin client for the email backend's REST surface.
// It performs no retries and no caching; every call is a fresh request.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ticketdesk/internal/domain"
)

const DefaultBaseURL = "http://localhost:3000/api"

// SendAccepted is the backend's acknowledgement for a processed send.
const SendAccepted = "Email processed successfully"

// Client talks to the email backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 10 * time.Second

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Error wraps transport failures and non-2xx responses.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

type SendRequest struct {
	TicketID  int    `json:"ticketId"`
	Content   string `json:"content"`
	Recipient string `json:"recipient"`
}

type SendResult struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// Accepted reports whether the backend processed the send.
func (r SendResult) Accepted() bool { return r.Message == SendAccepted }

type generateResult struct {
	Response string `json:"response"`
}

// CheckConnection probes backend liveness. Any failure reads as unavailable.
func (c *Client) CheckConnection(ctx context.Context) bool {
	if err := c.do(ctx, "health-check", http.MethodGet, "health-check", nil, nil); err != nil {
		c.logger().Debug("health check failed", "error", err)
		return false
	}
	return true
}

// FetchEmails returns the backend's current ticket list.
func (c *Client) FetchEmails(ctx context.Context) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	if err := c.do(ctx, "fetch-emails", http.MethodGet, "emails", nil, &tickets); err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	return tickets, nil
}

// SendEmail submits a reply. A result whose message is not SendAccepted is
// returned without error; callers decide what a rejection means.
func (c *Client) SendEmail(ctx context.Context, ticketID int, content, recipient string) (SendResult, error) {
	var resp SendResult
	err := c.do(ctx, "send-email", http.MethodPost, "emails/send", SendRequest{
		TicketID:  ticketID,
		Content:   content,
		Recipient: recipient,
	}, &resp)
	return resp, err
}

// GenerateResponse asks the backend to draft a reply for the ticket.
func (c *Client) GenerateResponse(ctx context.Context, t domain.Ticket) (string, error) {
	var resp generateResult
	if err := c.do(ctx, "generate-response", http.MethodPost, "emails/generate-response", t, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
