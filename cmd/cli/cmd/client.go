package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"execplane/pkg/api"
)

// ExecClient handles calls to the execplane public API.
type ExecClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewExecClient creates a new client with the given base URL and token.
func NewExecClient(baseURL, token string) *ExecClient {
	return &ExecClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	var payload api.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg := payload.Error
		if payload.Details != "" {
			msg += ": " + payload.Details
		}
		return &APIError{StatusCode: status, Code: payload.Code, Message: msg}
	}
	return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}
}

// do sends one request and decodes a 2xx JSON body into out when out is non-nil.
func (c *ExecClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// TriggerExecution sends POST /trigger-execution.
func (c *ExecClient) TriggerExecution(req api.TriggerExecutionRequest) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodPost, "/trigger-execution", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetExecution sends GET /execution/{id}.
func (c *ExecClient) GetExecution(id string) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodGet, "/execution/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListFilter narrows GET /executions.
type ListFilter struct {
	ScriptID string
	ClientID string
	Status   string
	Page     int
	PageSize int
}

// ListExecutions sends GET /executions with the given filter.
func (c *ExecClient) ListExecutions(f ListFilter) (*api.ListExecutionsResponse, error) {
	q := url.Values{}
	if f.ScriptID != "" {
		q.Set("scriptId", f.ScriptID)
	}
	if f.ClientID != "" {
		q.Set("clientId", f.ClientID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(f.PageSize))
	}

	path := "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var result api.ListExecutionsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOutput sends GET /execution/{id}/output starting at fromSequence.
func (c *ExecClient) GetOutput(id string, fromSequence int64, maxChunks int) (*api.OutputResponse, error) {
	path := fmt.Sprintf("/execution/%s/output?fromSequence=%d", url.PathEscape(id), fromSequence)
	if maxChunks > 0 {
		path += fmt.Sprintf("&maxChunks=%d", maxChunks)
	}
	var result api.OutputResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelExecution sends POST /execution/{id}/cancel.
func (c *ExecClient) CancelExecution(id string) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodPost, "/execution/"+url.PathEscape(id)+"/cancel", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransitions sends GET /execution/{id}/transitions.
func (c *ExecClient) GetTransitions(id string) (*api.TransitionsResponse, error) {
	var result api.TransitionsResponse
	if err := c.do(http.MethodGet, "/execution/"+url.PathEscape(id)+"/transitions", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStats sends GET /executions/stats.
func (c *ExecClient) GetStats() (*api.StatsResponse, error) {
	var result api.StatsResponse
	if err := c.do(http.MethodGet, "/executions/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TriggerClientUpdate sends POST /trigger-client-update.
func (c *ExecClient) TriggerClientUpdate(req api.TriggerClientUpdateRequest) (*api.ClientUpdateJobResponse, error) {
	var result api.ClientUpdateJobResponse
	if err := c.do(http.MethodPost, "/trigger-client-update", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetClientUpdate sends GET /client-update/{id}.
func (c *ExecClient) GetClientUpdate(id string) (*api.ClientUpdateJobResponse, error) {
	var result api.ClientUpdateJobResponse
	if err := c.do(http.MethodGet, "/client-update/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListClients sends GET /clients.
func (c *ExecClient) ListClients() (*api.ClientsResponse, error) {
	var result api.ClientsResponse
	if err := c.do(http.MethodGet, "/clients", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListCertificates sends GET /certificates.
func (c *ExecClient) ListCertificates(commonName string, pageSize int) (*api.CertificatesResponse, error) {
	q := url.Values{}
	if commonName != "" {
		q.Set("commonName", commonName)
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	path := "/certificates"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var result api.CertificatesResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PutScript sends PUT /scripts/{id}.
func (c *ExecClient) PutScript(id string, req api.PutScriptRequest) (*api.ScriptResponse, error) {
	var result api.ScriptResponse
	if err := c.do(http.MethodPut, "/scripts/"+url.PathEscape(id), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetScript sends GET /scripts/{id}.
func (c *ExecClient) GetScript(id string) (*api.ScriptResponse, error) {
	var result api.ScriptResponse
	if err := c.do(http.MethodGet, "/scripts/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AssignScript sends PUT /scripts/{id}/assignments/{clientId}.
func (c *ExecClient) AssignScript(scriptID, clientID string) error {
	return c.do(http.MethodPut, "/scripts/"+url.PathEscape(scriptID)+"/assignments/"+url.PathEscape(clientID), nil, nil)
}

// ListScripts sends GET /scripts.
func (c *ExecClient) ListScripts() (*api.ScriptsResponse, error) {
	var result api.ScriptsResponse
	if err := c.do(http.MethodGet, "/scripts", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteScript sends DELETE /scripts/{id}.
func (c *ExecClient) DeleteScript(id string) error {
	return c.do(http.MethodDelete, "/scripts/"+url.PathEscape(id), nil, nil)
}

// UnassignScript sends DELETE /scripts/{id}/assignments/{clientId}.
func (c *ExecClient) UnassignScript(scriptID, clientID string) error {
	return c.do(http.MethodDelete, "/scripts/"+url.PathEscape(scriptID)+"/assignments/"+url.PathEscape(clientID), nil, nil)
}

// ListAssignments sends GET /scripts/{id}/assignments.
func (c *ExecClient) ListAssignments(scriptID string) (*api.AssignmentsResponse, error) {
	var result api.AssignmentsResponse
	if err := c.do(http.MethodGet, "/scripts/"+url.PathEscape(scriptID)+"/assignments", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListClientScripts sends GET /clients/{clientId}/scripts.
func (c *ExecClient) ListClientScripts(clientID string) (*api.AssignmentsResponse, error) {
	var result api.AssignmentsResponse
	if err := c.do(http.MethodGet, "/clients/"+url.PathEscape(clientID)+"/scripts", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExportCatalog sends GET /catalog/backup.
func (c *ExecClient) ExportCatalog() (*api.CatalogBackup, error) {
	var result api.CatalogBackup
	if err := c.do(http.MethodGet, "/catalog/backup", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportCatalog sends POST /catalog/backup.
func (c *ExecClient) ImportCatalog(backup api.CatalogBackup) (*api.ImportBackupResponse, error) {
	var result api.ImportBackupResponse
	if err := c.do(http.MethodPost, "/catalog/backup", backup, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
