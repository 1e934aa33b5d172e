// Package agentclient speaks the agent side of the registration, polling
// and reporting protocol.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"insafe-backend/internal/models"
)

var ErrNotRegistered = errors.New("agent is not registered")

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the agent should re-register.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type Client struct {
	http  *resty.Client
	token string
}

// New returns a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api.
func New(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc}
}

// SetToken installs a token from a previous registration.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

// Register binds this machine and keeps the returned token for later calls.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	var out models.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/agents/register", false, req, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Poll fetches pending commands, oldest first.
func (c *Client) Poll(ctx context.Context) ([]models.Command, error) {
	var out models.PollResponse
	if err := c.do(ctx, http.MethodGet, "/agents/commands", true, nil, &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

func (c *Client) Report(ctx context.Context, report models.CommandReport) error {
	return c.do(ctx, http.MethodPost, "/agents/commands/report", true, report, nil)
}

func (c *Client) Heartbeat(ctx context.Context, hb models.HeartbeatRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/status", true, hb, nil)
}

// PushActivities uploads a batch and returns how many the server kept.
func (c *Client) PushActivities(ctx context.Context, activities []models.RawActivity) (int, error) {
	if activities == nil {
		activities = []models.RawActivity{}
	}
	var out models.ActivityBatchResponse
	if err := c.do(ctx, http.MethodPost, "/agents/activities", true, models.ActivityBatch{Activities: activities}, &out); err != nil {
		return 0, err
	}
	return out.SavedCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, body, out any) error {
	if authed && c.token == "" {
		return ErrNotRegistered
	}

	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if authed {
		req.SetAuthToken(c.token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}
	return nil
}
