// Package gateway is the HTTP client for the third-party chat gateway that
// actually delivers messages. Every call is credentialed per tenant and
// carries a timeout so one slow tenant cannot stall a dispatch sweep.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Credentials identify one tenant's gateway instance.
type Credentials struct {
	BaseURL string
	Token   string
}

// Valid reports whether the credentials are usable at all. Invalid
// credentials mean the tenant is skipped for the sweep, not that messages
// fail.
func (c Credentials) Valid() bool {
	return c.BaseURL != "" && c.Token != ""
}

// Group is one chat group known to the gateway.
type Group struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// API is the contract the delivery core needs from the gateway.
type API interface {
	SendText(ctx context.Context, creds Credentials, recipient, body string) (string, error)
	SendFile(ctx context.Context, creds Credentials, recipient, fileURL, filename string) error
	ListGroups(ctx context.Context, creds Credentials) ([]Group, error)
	ConnectionState(ctx context.Context, creds Credentials) (bool, error)
}

// Error is a gateway-reported failure (non-2xx response).
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

type sendTextRequest struct {
	ChatID string `json:"chat_id"`
	Body   string `json:"body"`
}

type sendTextResponse struct {
	MessageID string `json:"message_id"`
}

func (c *Client) SendText(ctx context.Context, creds Credentials, recipient, body string) (string, error) {
	var resp sendTextResponse
	err := c.do(ctx, creds, http.MethodPost, "/messages/text",
		sendTextRequest{ChatID: recipient, Body: body}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

type sendFileRequest struct {
	ChatID   string `json:"chat_id"`
	FileURL  string `json:"file_url"`
	Filename string `json:"filename"`
}

func (c *Client) SendFile(ctx context.Context, creds Credentials, recipient, fileURL, filename string) error {
	return c.do(ctx, creds, http.MethodPost, "/messages/file",
		sendFileRequest{ChatID: recipient, FileURL: fileURL, Filename: filename}, nil)
}

type listGroupsResponse struct {
	Groups []Group `json:"groups"`
}

func (c *Client) ListGroups(ctx context.Context, creds Credentials) ([]Group, error) {
	var resp listGroupsResponse
	if err := c.do(ctx, creds, http.MethodGet, "/groups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

type stateResponse struct {
	State string `json:"state"`
}

func (c *Client) ConnectionState(ctx context.Context, creds Credentials) (bool, error) {
	var resp stateResponse
	if err := c.do(ctx, creds, http.MethodGet, "/state", nil, &resp); err != nil {
		return false, err
	}
	return resp.State == "authorized", nil
}

func (c *Client) do(ctx context.Context, creds Credentials, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, creds.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("malformed gateway response: %w", err)
		}
	}
	return nil
}
