// Package tasks holds the TickTick client the pipeline creates tasks in and
// the digest actions read open tasks from.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

// DefaultBaseURL is the TickTick Open API base.
const DefaultBaseURL = "https://api.ticktick.com/open/v1"

const requestTimeout = 10 * time.Second

// Client implements engine.TaskClient against the TickTick Open API. The
// project list is cached per client instance; a pipeline builds one client
// per invocation.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client

	mu       sync.Mutex
	projects []project
}

type project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiTask struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Content  string   `json:"content,omitempty"`
	Priority int      `json:"priority"`
	DueDate  string   `json:"dueDate,omitempty"`
	IsAllDay bool     `json:"isAllDay,omitempty"`
	Status   int      `json:"status,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// NewClient creates a TickTick client. An empty baseURL falls back to the
// production API.
func NewClient(baseURL, accessToken string) (*Client, error) {
	if accessToken == "" {
		return nil, engine.NewAuthError("ticktick access token is empty", nil)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}, nil
}

// CreateTask creates a task and returns its ID.
func (c *Client) CreateTask(ctx context.Context, req engine.TaskRequest) (string, error) {
	payload := map[string]interface{}{
		"title":    req.Title,
		"content":  req.Content,
		"priority": req.Priority,
	}
	if req.ProjectID != "" {
		payload["projectId"] = req.ProjectID
	}
	if req.DueDate != "" {
		payload["dueDate"] = req.DueDate
		payload["isAllDay"] = req.IsAllDay
	}
	if len(req.Tags) > 0 {
		payload["tags"] = req.Tags
	}

	var created apiTask
	if err := c.do(ctx, http.MethodPost, "/task", payload, &created); err != nil {
		return "", err
	}
	telemetry.FromContext(ctx).WithField("task_id", created.ID).Debug("created task")
	return created.ID, nil
}

// ResolveProject maps a project hint to a project ID, creating the project
// when absent. An empty hint resolves to the service inbox.
func (c *Client) ResolveProject(ctx context.Context, hint string) (string, error) {
	if hint == "" {
		return "", nil
	}

	projects, err := c.listProjects(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, hint) {
			return p.ID, nil
		}
	}

	var created project
	if err := c.do(ctx, http.MethodPost, "/project", map[string]string{"name": hint}, &created); err != nil {
		return "", err
	}
	telemetry.FromContext(ctx).WithField("project", hint).Info("created task project")

	c.mu.Lock()
	c.projects = append(c.projects, created)
	c.mu.Unlock()
	return created.ID, nil
}

// OpenTasks fetches incomplete tasks across every project and groups them by
// due window relative to now: overdue, due today, due within seven days.
func (c *Client) OpenTasks(ctx context.Context, now time.Time) (engine.TaskDashboard, error) {
	var dash engine.TaskDashboard

	projects, err := c.listProjects(ctx)
	if err != nil {
		return dash, err
	}

	today := now.Format("2006-01-02")
	weekOut := now.AddDate(0, 0, 7).Format("2006-01-02")

	for _, p := range projects {
		var data struct {
			Tasks []apiTask `json:"tasks"`
		}
		if err := c.do(ctx, http.MethodGet, "/project/"+p.ID+"/data", nil, &data); err != nil {
			telemetry.FromContext(ctx).WithError(err).WithField("project", p.Name).Warn("failed to fetch project tasks")
			continue
		}

		for _, t := range data.Tasks {
			if t.Status != 0 || t.DueDate == "" || len(t.DueDate) < 10 {
				continue
			}
			due := t.DueDate[:10]
			summary := engine.TaskSummary{
				Title:    t.Title,
				Project:  p.Name,
				DueDate:  due,
				Priority: t.Priority,
			}
			switch {
			case due < today:
				dash.Overdue = append(dash.Overdue, summary)
			case due == today:
				dash.DueToday = append(dash.DueToday, summary)
			case due <= weekOut:
				dash.Upcoming = append(dash.Upcoming, summary)
			}
		}
	}

	return dash, nil
}

func (c *Client) listProjects(ctx context.Context) ([]project, error) {
	c.mu.Lock()
	cached := c.projects
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var projects []project
	if err := c.do(ctx, http.MethodGet, "/project", nil, &projects); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.projects = projects
	c.mu.Unlock()
	return projects, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engine.NewTransientError("ticktick request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return engine.NewAuthError(fmt.Sprintf("ticktick rejected credentials (%d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return engine.NewTransientError(fmt.Sprintf("ticktick unavailable (%d)", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return engine.NewPermanentError(fmt.Sprintf("ticktick error %d: %s", resp.StatusCode, data), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.NewTransientError("decoding ticktick response", err)
	}
	return nil
}
