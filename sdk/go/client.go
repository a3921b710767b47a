package modmarketsdk

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

// Client is a minimal Modmarket HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Module represents the API module model (partial).
type Module struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Bounty    *int       `json:"bounty,omitempty"`
	Deadline  *string    `json:"deadline,omitempty"`
	IsTimeout bool       `json:"is_timeout"`
	Assignees []Assignee `json:"assignees"`
}

// Assignee is one claimed slot on a module.
type Assignee struct {
	UserID    string `json:"user_id"`
	ClaimedAt string `json:"claimed_at"`
}

// Delivery represents submitted work.
type Delivery struct {
	ID          string `json:"id"`
	ModuleID    string `json:"module_id"`
	SubmitterID string `json:"submitter_id"`
	Content     string `json:"content"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// Review represents a commander's verdict on a delivery.
type Review struct {
	ID          string         `json:"id"`
	DeliveryID  string         `json:"delivery_id"`
	ReviewerID  string         `json:"reviewer_id"`
	Decision    string         `json:"decision"`
	Feedback    string         `json:"feedback,omitempty"`
	TotalScore  *int           `json:"total_score,omitempty"`
	Allocations map[string]int `json:"allocations,omitempty"`
	ReviewedAt  string         `json:"reviewed_at"`
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
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateModule publishes a module into a project.
func (c *Client) CreateModule(ctx context.Context, projectID, title string, bounty *int) (Module, error) {
	body := map[string]any{
		"project_id": projectID,
		"title":      title,
	}
	if bounty != nil {
		body["bounty"] = *bounty
	}
	var resp Module
	err := c.do(ctx, http.MethodPost, "v1/modules", body, &resp)
	return resp, err
}

// GetModule fetches a module with its assignees.
func (c *Client) GetModule(ctx context.Context, id string) (Module, error) {
	var resp Module
	err := c.do(ctx, http.MethodGet, "v1/modules/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListModules lists modules, optionally filtered by project and status.
func (c *Client) ListModules(ctx context.Context, projectID, status string) ([]Module, error) {
	endpoint := "v1/modules"
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Module
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ClaimModule claims an assignee slot on a module.
func (c *Client) ClaimModule(ctx context.Context, id string) (Module, error) {
	var resp Module
	err := c.do(ctx, http.MethodPost, "v1/modules/"+url.PathEscape(id)+"/claim", nil, &resp)
	return resp, err
}

// SubmitDelivery submits work for a claimed module.
func (c *Client) SubmitDelivery(ctx context.Context, moduleID, content string) (Delivery, error) {
	body := map[string]any{"content": content}
	var resp Delivery
	endpoint := "v1/modules/" + url.PathEscape(moduleID) + "/deliveries"
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReviewDelivery records a verdict. Allocations may be nil for an equal split.
func (c *Client) ReviewDelivery(ctx context.Context, deliveryID, decision, feedback string, totalScore *int, allocations map[string]int) (Review, error) {
	body := map[string]any{
		"decision": decision,
	}
	if feedback != "" {
		body["feedback"] = feedback
	}
	if totalScore != nil {
		body["total_score"] = *totalScore
	}
	if len(allocations) > 0 {
		body["allocations"] = allocations
	}
	var resp Review
	endpoint := "v1/deliveries/" + url.PathEscape(deliveryID) + "/review"
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestAbandon asks the commander to release a claimed slot.
func (c *Client) RequestAbandon(ctx context.Context, moduleID, reason string) error {
	body := map[string]any{"reason": reason}
	endpoint := "v1/modules/" + url.PathEscape(moduleID) + "/abandon"
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
