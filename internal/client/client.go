// Package client is a small HTTP client for the ralph daemon API,
// used by the CLI control commands.
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

	"github.com/ralphctl/ralph/internal/models"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

// Client talks to a running ralph daemon.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL is the daemon
// address, e.g. http://127.0.0.1:7171.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  DefaultTimeout,
	}
}

// APIError is the daemon's error envelope for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d %s", e.StatusCode, e.Message)
}

// ControlResult is the response of a pause/resume/kill call.
type ControlResult struct {
	ID     string            `json:"id"`
	Status models.LoopStatus `json:"status"`
}

// StartLoop starts an iterative loop on a project.
func (c *Client) StartLoop(ctx context.Context, projectID, prompt, workDir string) (*models.Loop, error) {
	body := map[string]string{"prompt": prompt}
	if workDir != "" {
		body["work_dir"] = workDir
	}
	var created models.Loop
	if err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "loops"), body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// StartPlan starts a PRD-mode loop from a plan document.
func (c *Client) StartPlan(ctx context.Context, projectID string, plan *models.PlanDocument, workDir string) (*models.Loop, error) {
	endpoint := c.projectPath(projectID, "loops/prd")
	if workDir != "" {
		endpoint += "?work_dir=" + url.QueryEscape(workDir)
	}
	var created models.Loop
	if err := c.do(ctx, http.MethodPost, endpoint, plan, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetLoop fetches one loop.
func (c *Client) GetLoop(ctx context.Context, loopID string) (*models.Loop, error) {
	var found models.Loop
	if err := c.do(ctx, http.MethodGet, c.loopPath(loopID, ""), nil, &found); err != nil {
		return nil, err
	}
	return &found, nil
}

// ListLoops lists a project's loops, newest first.
func (c *Client) ListLoops(ctx context.Context, projectID string) ([]models.Loop, error) {
	var loops []models.Loop
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "loops"), nil, &loops); err != nil {
		return nil, err
	}
	return loops, nil
}

// Pause pauses a running loop.
func (c *Client) Pause(ctx context.Context, loopID string) (*ControlResult, error) {
	return c.control(ctx, loopID, "pause")
}

// Resume resumes a paused loop.
func (c *Client) Resume(ctx context.Context, loopID string) (*ControlResult, error) {
	return c.control(ctx, loopID, "resume")
}

// Kill terminates a loop.
func (c *Client) Kill(ctx context.Context, loopID string) (*ControlResult, error) {
	return c.control(ctx, loopID, "kill")
}

// Mistakes lists a project's recorded mistakes, newest first.
func (c *Client) Mistakes(ctx context.Context, projectID string, limit int) ([]models.Mistake, error) {
	endpoint := c.projectPath(projectID, "mistakes")
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	var mistakes []models.Mistake
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &mistakes); err != nil {
		return nil, err
	}
	return mistakes, nil
}

// Context builds the project's learned loop context.
func (c *Client) Context(ctx context.Context, projectID string) (*models.LoopContext, error) {
	var loopCtx models.LoopContext
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "context"), nil, &loopCtx); err != nil {
		return nil, err
	}
	return &loopCtx, nil
}

// Dismissals lists a project's active recommendation dismissals.
func (c *Client) Dismissals(ctx context.Context, projectID string) ([]models.Dismissal, error) {
	var dismissals []models.Dismissal
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "recommendations/dismissals"), nil, &dismissals); err != nil {
		return nil, err
	}
	return dismissals, nil
}

// Dismiss suppresses a recommendation for the project.
func (c *Client) Dismiss(ctx context.Context, projectID, recommendationID string, permanent bool) (*models.Dismissal, error) {
	body := map[string]any{
		"recommendation_id": recommendationID,
		"permanent":         permanent,
	}
	var dismissal models.Dismissal
	if err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "recommendations/dismissals"), body, &dismissal); err != nil {
		return nil, err
	}
	return &dismissal, nil
}

// ClearDismissal removes a dismissal ahead of its expiry.
func (c *Client) ClearDismissal(ctx context.Context, projectID, recommendationID string) error {
	endpoint := c.projectPath(projectID, "recommendations/dismissals/"+url.PathEscape(recommendationID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Health checks that the daemon and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.BasePath+"/healthz", nil, nil)
}

func (c *Client) control(ctx context.Context, loopID, action string) (*ControlResult, error) {
	var result ControlResult
	if err := c.do(ctx, http.MethodPost, c.loopPath(loopID, action), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr := envelope.Error
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func (c *Client) projectPath(projectID, p string) string {
	project := url.PathEscape(projectID)
	return fmt.Sprintf("%s/projects/%s/%s", c.BasePath, project, strings.TrimLeft(p, "/"))
}

func (c *Client) loopPath(loopID, action string) string {
	endpoint := fmt.Sprintf("%s/loops/%s", c.BasePath, url.PathEscape(loopID))
	if action != "" {
		endpoint += "/" + action
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
