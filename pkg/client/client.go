// Package client talks to the benchroom REST API. It serves both the
// operator CLI and the session helper that runs inside a sandbox.
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
	"time"

	"github.com/benchroom/benchroom/api/rest/service/catalog"
	"github.com/benchroom/benchroom/internal/history"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, e.Message)
}

// Client wraps HTTP interaction with the benchroom REST API.
type Client struct {
	baseURL    string
	instanceID string
	httpClient *http.Client
}

// New constructs a client for baseURL. instanceID scopes the session
// helpers and may be empty outside a sandbox.
func New(baseURL, instanceID string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		instanceID: strings.TrimSpace(instanceID),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// FromEnv builds a client from BENCHROOM_SERVER_URL and INSTANCE_ID.
func FromEnv() *Client {
	vars := env.Variables()
	return New(vars.ServerURL, vars.InstanceID)
}

// InstanceID returns the sandbox instance this client reports for.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Enabled reports whether session calls reach the server. Without an
// instance ID they are skipped.
func (c *Client) Enabled() bool {
	return c.instanceID != ""
}

func (c *Client) resolve(path string, query url.Values) string {
	raw := c.baseURL + path
	if len(query) == 0 {
		return raw
	}
	return raw + "?" + query.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, v interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if v == nil {
		return nil
	}

	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(v), "decode %s %s", method, path)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return apiErr
}

// MarkResult mirrors the interview-started endpoints.
type MarkResult struct {
	Success               bool   `json:"success"`
	InstanceID            string `json:"instanceId"`
	InterviewStarted      bool   `json:"interviewStarted"`
	FinalInterviewStarted bool   `json:"finalInterviewStarted"`
}

// Status returns the timer state of the client's instance.
func (c *Client) Status(ctx context.Context) (*timer.Status, error) {
	if !c.Enabled() {
		log.Debug("no instance id, skipping timer status")
		return nil, nil
	}

	var st timer.Status
	if err := c.do(ctx, http.MethodGet, "/timer/status", url.Values{"instanceId": {c.instanceID}}, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartInterview records that the candidate opened the initial
// interview.
func (c *Client) StartInterview(ctx context.Context) (*MarkResult, error) {
	return c.mark(ctx, "/timer/interview-started")
}

// StartFinalInterview records that the final interview began.
func (c *Client) StartFinalInterview(ctx context.Context) (*MarkResult, error) {
	return c.mark(ctx, "/timer/final-interview-started")
}

func (c *Client) mark(ctx context.Context, path string) (*MarkResult, error) {
	if !c.Enabled() {
		log.Debug("no instance id, skipping timer update", "path", path)
		return nil, nil
	}

	var res MarkResult
	body := map[string]string{"instanceId": c.instanceID}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Turn sends a candidate message and returns the interviewer's reply.
func (c *Client) Turn(ctx context.Context, message string) (*interview.TurnResult, error) {
	if !c.Enabled() {
		log.Debug("no instance id, skipping chat turn")
		return nil, nil
	}

	var res interview.TurnResult
	body := map[string]string{"instanceId": c.instanceID, "message": message}
	if err := c.do(ctx, http.MethodPost, "/chat", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HistoryResponse mirrors GET /chat/history.
type HistoryResponse struct {
	Success    bool            `json:"success"`
	InstanceID string          `json:"instanceId"`
	Phase      interview.Phase `json:"phase"`
	History    []history.Entry `json:"history"`
}

// History returns the chat log of the client's instance.
func (c *Client) History(ctx context.Context) (*HistoryResponse, error) {
	if !c.Enabled() {
		log.Debug("no instance id, skipping history")
		return nil, nil
	}

	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/chat/history", url.Values{"instanceId": {c.instanceID}}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateInstance provisions a sandbox.
func (c *Client) CreateInstance(ctx context.Context, req *orchestrator.CreateRequest) (*models.Instance, error) {
	var inst models.Instance
	if err := c.do(ctx, http.MethodPost, "/instances", nil, req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// DeleteInstance tears down an instance by ID or container reference.
func (c *Client) DeleteInstance(ctx context.Context, ref string) (*orchestrator.DeleteResult, error) {
	var res orchestrator.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(ref), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListInstances returns instances with their live container state.
// Zero IDs are not used as filters.
func (c *Client) ListInstances(ctx context.Context, testID, candidateID uint) ([]*orchestrator.Detail, error) {
	query := url.Values{}
	if testID > 0 {
		query.Set("test_id", fmt.Sprint(testID))
	}
	if candidateID > 0 {
		query.Set("candidate_id", fmt.Sprint(candidateID))
	}

	var details []*orchestrator.Detail
	if err := c.do(ctx, http.MethodGet, "/instances", query, nil, &details); err != nil {
		return nil, err
	}
	return details, nil
}

// Apply upserts the tests and candidates of a manifest.
func (c *Client) Apply(ctx context.Context, m *catalog.Manifest) (*catalog.ApplyResult, error) {
	var res catalog.ApplyResult
	if err := c.do(ctx, http.MethodPost, "/tests/apply", nil, m, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
