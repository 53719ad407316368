package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"execplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrSealed is returned by Output once the controller stopped accepting output.
var ErrSealed = errors.New("output buffer sealed")

// Controller is the controller's internal API as seen by the agent.
type Controller interface {
	Poll(ctx context.Context, wait time.Duration) (*api.Command, error)
	Ack(ctx context.Context, executionID string, accepted bool, reason string) error
	Start(ctx context.Context, executionID string) error
	Output(ctx context.Context, executionID string, req api.OutputRequest) error
	Result(ctx context.Context, executionID string, req api.ResultRequest) error
	UpdateAck(ctx context.Context, jobID string, delivered bool, reason string) error
}

// Client calls the controller's /internal endpoints.
type Client struct {
	baseURL  string
	clientID string
	version  string
	secret   string

	// poll has no overall timeout; the long poll is bounded by its context.
	poll *http.Client
	http *http.Client
}

var _ Controller = (*Client)(nil)

// NewClient creates a controller client for clientID.
func NewClient(baseURL, clientID, version, secret string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		version:  version,
		secret:   secret,
		poll:     &http.Client{},
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Poll waits up to wait for the next command. It returns nil when none arrived.
func (c *Client) Poll(ctx context.Context, wait time.Duration) (*api.Command, error) {
	q := url.Values{}
	q.Set("version", c.version)
	q.Set("wait", wait.String())
	path := fmt.Sprintf("/internal/clients/%s/commands?%s", url.PathEscape(c.clientID), q.Encode())

	ctx, cancel := context.WithTimeout(ctx, wait+10*time.Second)
	defer cancel()

	var cmd api.Command
	status, err := c.do(ctx, c.poll, http.MethodGet, path, nil, &cmd)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &cmd, nil
}

func (c *Client) Ack(ctx context.Context, executionID string, accepted bool, reason string) error {
	_, err := c.do(ctx, c.http, http.MethodPut, "/internal/executions/"+executionID+"/ack",
		api.AckRequest{Accepted: accepted, Reason: reason}, nil)
	return err
}

func (c *Client) Start(ctx context.Context, executionID string) error {
	_, err := c.do(ctx, c.http, http.MethodPut, "/internal/executions/"+executionID+"/start", nil, nil)
	return err
}

// Output ships one chunk. A 409 answer is reported as ErrSealed.
func (c *Client) Output(ctx context.Context, executionID string, req api.OutputRequest) error {
	status, err := c.do(ctx, c.http, http.MethodPost, "/internal/executions/"+executionID+"/output", req, nil)
	if status == http.StatusConflict {
		return ErrSealed
	}
	return err
}

func (c *Client) Result(ctx context.Context, executionID string, req api.ResultRequest) error {
	_, err := c.do(ctx, c.http, http.MethodPut, "/internal/executions/"+executionID+"/result", req, nil)
	return err
}

func (c *Client) UpdateAck(ctx context.Context, jobID string, delivered bool, reason string) error {
	_, err := c.do(ctx, c.http, http.MethodPut, "/internal/client-updates/"+jobID+"/ack",
		api.UpdateAckRequest{Delivered: delivered, Reason: reason}, nil)
	return err
}

// TriggerSelf asks the controller to run scriptID on this client.
func (c *Client) TriggerSelf(ctx context.Context, scriptID string) (*api.ExecutionResponse, error) {
	var e api.ExecutionResponse
	path := fmt.Sprintf("/internal/clients/%s/executions", url.PathEscape(c.clientID))
	if _, err := c.do(ctx, c.http, http.MethodPost, path, api.ClientTriggerRequest{ScriptID: scriptID}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// do sends a JSON request and decodes a JSON answer into out. It returns the
// status code even when the status is an error.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
