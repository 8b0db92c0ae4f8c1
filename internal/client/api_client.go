package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

// CredentialStore is where the signed-in identity is cached.
type CredentialStore interface {
	ClearSession(ctx context.Context) error
}

// APIClient handles communication with the backend API
type APIClient struct {
	baseURL     string
	deviceID    string
	httpClient  *http.Client
	credentials CredentialStore
	logger      *zap.Logger

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, deviceID string, timeout time.Duration, credentials CredentialStore, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		credentials: credentials,
		logger:      logger,
	}
}

// SetToken sets the bearer token attached to every request
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers the callback fired after a 401 has cleared the
// credentials.
func (c *APIClient) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// Login exchanges credentials for a token and keeps it for later requests.
func (c *APIClient) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, req, "", &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &BackendError{Message: "login response carried no access token", StatusCode: http.StatusOK}
	}
	c.SetToken(resp.AccessToken)
	return &resp, nil
}

// Logout revokes the token server-side. The local token is dropped even when
// the request fails.
func (c *APIClient) Logout(ctx context.Context) error {
	defer c.SetToken("")
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, "", nil)
}

func (c *APIClient) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, nil, "", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *APIClient) ListProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	var tasks []models.Task
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *APIClient) CreateTask(ctx context.Context, m models.CreateTask, idempotencyKey string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, m, idempotencyKey, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *APIClient) UpdateTask(ctx context.Context, m models.UpdateTask, idempotencyKey string) (*models.Task, error) {
	var task models.Task
	path := fmt.Sprintf("/tasks/%d", m.TaskID)
	if err := c.do(ctx, http.MethodPut, path, nil, m, idempotencyKey, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartTimeEntry creates a running time entry on the server.
func (c *APIClient) StartTimeEntry(ctx context.Context, m models.StartTimer, idempotencyKey string) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := c.do(ctx, http.MethodPost, "/time-entries", nil, m, idempotencyKey, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *APIClient) StopTimeEntry(ctx context.Context, m models.StopTimer, idempotencyKey string) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	path := fmt.Sprintf("/time-entries/%d/stop", m.EntryID)
	if err := c.do(ctx, http.MethodPut, path, nil, m, idempotencyKey, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetActiveTimeEntry returns the user's running entry, or nil when none is
// open. The backend answers with null, an empty object, the entry itself or
// the entry wrapped in "active_entry".
func (c *APIClient) GetActiveTimeEntry(ctx context.Context) (*models.TimeEntry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/my/active-time-entry", nil, nil, "", &raw); err != nil {
		return nil, err
	}
	return decodeActiveEntry(raw)
}

func decodeActiveEntry(raw json.RawMessage) (*models.TimeEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse active entry: %w", err)
	}
	if wrapped, ok := fields["active_entry"]; ok {
		return decodeActiveEntry(wrapped)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var entry models.TimeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse active entry: %w", err)
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

// ListMyTimeEntries returns the user's entries, newest first. Empty bounds
// are omitted.
func (c *APIClient) ListMyTimeEntries(ctx context.Context, from, to string) ([]models.TimeEntry, error) {
	query := url.Values{}
	if from != "" {
		query.Set("from_date", from)
	}
	if to != "" {
		query.Set("to_date", to)
	}
	var entries []models.TimeEntry
	if err := c.do(ctx, http.MethodGet, "/my/time-entries", query, nil, "", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	token := c.Token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("op", op),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Request succeeded",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &BackendError{Message: fmt.Sprintf("%s: failed to parse response: %v", op, err), StatusCode: resp.StatusCode}
		}
		return nil
	}

	msg := fmt.Sprintf("%s: backend returned status %d: %s", op, resp.StatusCode, errorMessage(respBody))
	apiErr := classify(resp.StatusCode, msg, respBody)

	switch {
	case IsUnauthorized(apiErr):
		c.logger.Error("Authentication failed",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
		)
		if token != "" {
			c.unauthorized(ctx)
		}
	case IsTerminal(apiErr):
		c.logger.Warn("Request rejected",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
	default:
		c.logger.Error("Backend error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
	}
	return apiErr
}

// unauthorized drops the token and the cached identity, then notifies the
// owner so it can force a new login.
func (c *APIClient) unauthorized(ctx context.Context) {
	c.mu.Lock()
	c.token = ""
	fn := c.onUnauthorized
	c.mu.Unlock()

	if c.credentials != nil {
		if err := c.credentials.ClearSession(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("Failed to clear cached session", zap.Error(err))
		}
	}
	if fn != nil {
		fn()
	}
}

// errorMessage pulls the human readable part out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
