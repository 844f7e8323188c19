package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"livefleet/internal/fleet"
)

// HTTPClient talks to the control plane REST API. It implements Client,
// Provisioner and IdentityResolver.
type HTTPClient struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	health        string
	maxAttempts   int
	retryInterval time.Duration
}

var (
	_ Client           = (*HTTPClient)(nil)
	_ Provisioner      = (*HTTPClient)(nil)
	_ IdentityResolver = (*HTTPClient)(nil)
)

type transitionRequest struct {
	Target State `json:"target"`
}

type listResponse struct {
	IDs []string `json:"ids"`
}

type channelsResponse struct {
	Names []string `json:"names"`
}

type identityResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Describe implements Client.
func (c *HTTPClient) Describe(ctx context.Context, id string) (ResourceState, error) {
	var state ResourceState
	err := c.do(ctx, "describe", id, http.MethodGet, c.resourceURL(id), nil, &state)
	if IsNotFound(err) {
		return ResourceState{ID: id, State: StateAbsent}, nil
	}
	if err != nil {
		return ResourceState{}, err
	}
	return state, nil
}

// Transition implements Client.
func (c *HTTPClient) Transition(ctx context.Context, id string, target State) error {
	return c.do(ctx, "transition", id, http.MethodPost, c.resourceURL(id)+"/transitions", transitionRequest{Target: target}, nil)
}

// ListChannels implements Client.
func (c *HTTPClient) ListChannels(ctx context.Context) ([]string, error) {
	var response channelsResponse
	if err := c.do(ctx, "list", "channels", http.MethodGet, c.baseURL+"/v1/channels", nil, &response); err != nil {
		return nil, err
	}
	names := append([]string(nil), response.Names...)
	sort.Strings(names)
	return names, nil
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, scope Scope) ([]string, error) {
	endpoint := c.baseURL + "/v1/resources"
	if scope.Channel != "" {
		endpoint += "?channel=" + url.QueryEscape(scope.Channel)
	}
	var response listResponse
	if err := c.do(ctx, "list", scope.Channel, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return append([]string(nil), response.IDs...), nil
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", id, http.MethodDelete, c.resourceURL(id), nil, nil)
}

// Create implements Provisioner.
func (c *HTTPClient) Create(ctx context.Context, req CreateRequest) (ResourceState, error) {
	var state ResourceState
	if err := c.do(ctx, "create", req.Name, http.MethodPost, c.baseURL+"/v1/resources", req, &state); err != nil {
		return ResourceState{}, err
	}
	if state.ID == "" {
		return ResourceState{}, &RemoteError{Op: "create", ID: req.Name, Status: http.StatusOK, Detail: "response carried no resource id"}
	}
	return state, nil
}

// Update implements Provisioner.
func (c *HTTPClient) Update(ctx context.Context, id string, attributes json.RawMessage) (ResourceState, error) {
	var state ResourceState
	payload := map[string]json.RawMessage{"attributes": attributes}
	if err := c.do(ctx, "update", id, http.MethodPut, c.resourceURL(id), payload, &state); err != nil {
		return ResourceState{}, err
	}
	return state, nil
}

// ResolveRole implements IdentityResolver.
func (c *HTTPClient) ResolveRole(ctx context.Context, name string) (string, error) {
	return c.resolve(ctx, "roles", name)
}

// ResolveSecret implements IdentityResolver.
func (c *HTTPClient) ResolveSecret(ctx context.Context, name string) (string, error) {
	return c.resolve(ctx, "secrets", name)
}

func (c *HTTPClient) resolve(ctx context.Context, collection, name string) (string, error) {
	var response identityResponse
	endpoint := fmt.Sprintf("%s/v1/identity/%s/%s", c.baseURL, collection, url.PathEscape(name))
	err := c.do(ctx, "resolve", name, http.MethodGet, endpoint, nil, &response)
	if IsNotFound(err) {
		return "", fmt.Errorf("%s %q: %w", strings.TrimSuffix(collection, "s"), name, fleet.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", fmt.Errorf("%s %q: %w", strings.TrimSuffix(collection, "s"), name, fleet.ErrNotFound)
	}
	return response.ID, nil
}

// HealthChecks probes the control plane health endpoint.
func (c *HTTPClient) HealthChecks(ctx context.Context) []HealthStatus {
	status := HealthStatus{Component: "control-plane"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.health, nil)
	if err != nil {
		status.Status = "error"
		status.Detail = err.Error()
		return []HealthStatus{status}
	}
	setBearer(req, c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		status.Status = "error"
		status.Detail = err.Error()
		return []HealthStatus{status}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status.Status = "ok"
	} else {
		status.Status = "error"
		status.Detail = resp.Status
	}
	return []HealthStatus{status}
}

func (c *HTTPClient) resourceURL(id string) string {
	return c.baseURL + "/v1/resources/" + url.PathEscape(id)
}

// do issues one request, retrying only transient failures and only when the
// client was configured with more than one attempt.
func (c *HTTPClient) do(ctx context.Context, op, id, method, endpoint string, payload, dest any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	attempts := c.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.once(ctx, op, id, method, endpoint, body, dest)
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < attempts {
			c.logger.Warn("control plane request failed", "op", op, "id", id, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		}
	}
	return lastErr
}

func (c *HTTPClient) once(ctx context.Context, op, id, method, endpoint string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	setBearer(req, c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RemoteTransientError{Op: op, ID: id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil || resp.StatusCode == http.StatusNoContent {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", op, id, err)
		}
		return nil
	}

	detail := readDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Op: op, ID: id}
	case resp.StatusCode == http.StatusConflict:
		return &RemoteConflictError{Op: op, ID: id, Detail: detail}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RemoteTransientError{Op: op, ID: id, Status: resp.StatusCode, Err: errors.New(detail)}
	default:
		return &RemoteError{Op: op, ID: id, Status: resp.StatusCode, Detail: detail}
	}
}

func readDetail(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var payload errorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
