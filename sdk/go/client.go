package shopfloorsdk

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
)

// Client is a minimal Shopfloor HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for baseURL, which includes the API base path (for
// example http://127.0.0.1:8080/v1).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// KPI represents the API KPI model (partial).
type KPI struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	CurrentValue float64 `json:"current_value"`
	TargetValue  float64 `json:"target_value"`
	Unit         string  `json:"unit"`
	Status       string  `json:"status"`
	Trend        string  `json:"trend"`
}

// Action represents the API action model (partial).
type Action struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	Category    string  `json:"category"`
	DueDate     string  `json:"due_date"`
	Assignee    string  `json:"assignee,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Problem represents the API problem model (partial).
type Problem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Status      string  `json:"status"`
	Escalated   bool    `json:"escalated"`
	EscalatedAt *string `json:"escalated_at,omitempty"`
	ReportedBy  string  `json:"reported_by,omitempty"`
}

type StatusCounts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Warning int `json:"warning"`
	Danger  int `json:"danger"`
}

type ActionCounts struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

type ProblemCounts struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

// Dashboard is the site overview.
type Dashboard struct {
	Site  string `json:"site"`
	Stats struct {
		KPIs     StatusCounts  `json:"kpis"`
		Actions  ActionCounts  `json:"actions"`
		Problems ProblemCounts `json:"problems"`
	} `json:"stats"`
	SuccessRate float64 `json:"success_rate"`
}

// Priorities splits a day's actions into buckets.
type Priorities struct {
	Urgent         []Action `json:"urgent"`
	DueToday       []Action `json:"due_today"`
	CompletedToday []Action `json:"completed_today"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Role       string         `json:"role"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Dashboard returns the site overview.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

// Priorities returns the action buckets for date (YYYY-MM-DD); empty means today.
func (c *Client) Priorities(ctx context.Context, date string) (Priorities, error) {
	endpoint := "dashboard/priorities"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp Priorities
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// KPIs lists KPIs, optionally narrowed to a category.
func (c *Client) KPIs(ctx context.Context, category string) ([]KPI, error) {
	endpoint := "kpis"
	if category != "" {
		endpoint += "?category=" + url.QueryEscape(category)
	}
	var resp struct {
		Items []KPI `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// RecordKPIValue records a new measurement for a KPI.
func (c *Client) RecordKPIValue(ctx context.Context, id string, value float64) (KPI, error) {
	var resp KPI
	endpoint := fmt.Sprintf("kpis/%s/values", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

// CreateAction creates an action due on dueDate (YYYY-MM-DD).
func (c *Client) CreateAction(ctx context.Context, title, category, priority, dueDate string) (Action, error) {
	body := map[string]any{
		"title":    title,
		"category": category,
		"due_date": dueDate,
	}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Action
	err := c.do(ctx, http.MethodPost, "actions", body, &resp)
	return resp, err
}

// TransitionAction moves an action to status.
func (c *Client) TransitionAction(ctx context.Context, id, status string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("actions/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ToggleAction ticks an action done, or reopens a done one.
func (c *Client) ToggleAction(ctx context.Context, id string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("actions/%s/toggle", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// EscalateProblem escalates a problem.
func (c *Client) EscalateProblem(ctx context.Context, id string) (Problem, error) {
	var resp Problem
	endpoint := fmt.Sprintf("problems/%s/escalate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
