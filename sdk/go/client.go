package docuspheresdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Docusphere HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	WorkflowStatus string `json:"workflow_status"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type CreateProject struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// Entity is the workflow view of a project, phase, task, milestone or permit.
type Entity struct {
	Kind           string   `json:"kind"`
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Status         string   `json:"status"`
	WorkflowStatus string   `json:"workflow_status"`
	Allowed        []string `json:"allowed"`
}

type EntityRef struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
}

type Transition struct {
	ID         string    `json:"id"`
	Entity     EntityRef `json:"entity_ref"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Notes      string    `json:"notes,omitempty"`
	OccurredAt string    `json:"occurred_at"`
}

type Alert struct {
	Type     string    `json:"type"`
	Category string    `json:"category"`
	Subject  EntityRef `json:"subject_ref"`
	Message  string    `json:"message"`
	DueAt    string    `json:"due_at,omitempty"`
	Days     int       `json:"days"`
}

type PathStep struct {
	PhaseID       string `json:"phase_id"`
	Name          string `json:"name"`
	Position      int    `json:"position"`
	PhaseType     string `json:"phase_type"`
	DurationDays  int    `json:"duration_days"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Note          string `json:"note,omitempty"`
	SlackDays     *int   `json:"slack_days,omitempty"`
}

type CriticalPath struct {
	Steps         []PathStep `json:"steps"`
	TotalDays     int        `json:"total_days"`
	Indeterminate bool       `json:"indeterminate"`
}

// Report represents the progress report (partial).
type Report struct {
	ProjectID       string             `json:"project_id"`
	GeneratedAt     string             `json:"generated_at"`
	OverallProgress float64            `json:"overall_progress"`
	PhasesProgress  map[string]float64 `json:"phases_progress"`
	KeyMetrics      map[string]any     `json:"key_metrics"`
	Alerts          []Alert            `json:"alerts"`
	CriticalPath    CriticalPath       `json:"critical_path"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when
// the body carries one.
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

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) CreateProject(ctx context.Context, in CreateProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

// Report returns the full progress report of a project.
func (c *Client) Report(ctx context.Context, projectID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "report"), nil, &resp)
	return resp, err
}

func (c *Client) Alerts(ctx context.Context, projectID string) ([]Alert, error) {
	var resp struct {
		Items []Alert `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "alerts"), nil, &resp)
	return resp.Items, err
}

func (c *Client) CriticalPath(ctx context.Context, projectID string) (CriticalPath, error) {
	var resp CriticalPath
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "critical-path"), nil, &resp)
	return resp, err
}

func (c *Client) Entity(ctx context.Context, kind, id string) (Entity, error) {
	var resp Entity
	err := c.do(ctx, http.MethodGet, entityPath(kind, id, ""), nil, &resp)
	return resp, err
}

// Transition moves an entity to another workflow status.
func (c *Client) Transition(ctx context.Context, kind, id, to, notes string) (Transition, error) {
	body := map[string]any{"to": to}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, entityPath(kind, id, "transitions"), body, &resp)
	return resp, err
}

// History returns the transitions of an entity, newest first.
func (c *Client) History(ctx context.Context, kind, id string, limit int) ([]Transition, error) {
	endpoint := entityPath(kind, id, "transitions")
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Items []Transition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SetStatus sets the domain status of an entity.
func (c *Client) SetStatus(ctx context.Context, kind, id, status, notes string) (Entity, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Entity
	err := c.do(ctx, http.MethodPut, entityPath(kind, id, "status"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, projectID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := projectPath(projectID, "events")
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
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(id, sub string) string {
	p := "projects/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func entityPath(kind, id, sub string) string {
	p := fmt.Sprintf("entities/%s/%s", url.PathEscape(kind), url.PathEscape(id))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
