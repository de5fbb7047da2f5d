package api

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

	"taskdeck/internal/filter"
	"taskdeck/internal/model"
)

// APIError carries a non-2xx response from the task service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("task api: status %d", e.Status)
	}
	return fmt.Sprintf("task api: status %d: %s", e.Status, e.Detail)
}

// ListFilters are the optional query parameters accepted by the list
// endpoint. Zero values are omitted, meaning unfiltered/default order.
type ListFilters struct {
	Status   filter.Status
	Priority model.Priority
	Tag      string
	DueFrom  *time.Time
	DueTo    *time.Time
	SortBy   filter.SortField
	Order    filter.Order
	Search   string
}

// Client talks to the remote task service. It is the only component
// with network access; all task state it returns flows into the
// in-memory store.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// List fetches the account's tasks, optionally filtered server-side.
func (c *Client) List(ctx context.Context, acc model.Account, f ListFilters) ([]model.Task, error) {
	q := url.Values{}
	if f.Status != "" && f.Status != filter.StatusAll {
		q.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if f.Tag != "" {
		q.Set("tag", f.Tag)
	}
	if f.DueFrom != nil {
		q.Set("due_date_from", f.DueFrom.Format(time.RFC3339))
	}
	if f.DueTo != nil {
		q.Set("due_date_to", f.DueTo.Format(time.RFC3339))
	}
	if f.SortBy != "" {
		q.Set("sort_by", string(f.SortBy))
	}
	if f.Order != "" {
		q.Set("sort_order", string(f.Order))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}

	endpoint := c.baseURL + "/tasks/"
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var tasks []model.Task
	if err := c.do(ctx, acc, http.MethodGet, endpoint, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Create persists a new task and returns the server-assigned record.
func (c *Client) Create(ctx context.Context, acc model.Account, in model.TaskCreate) (*model.Task, error) {
	var task model.Task
	if err := c.do(ctx, acc, http.MethodPost, c.baseURL+"/tasks/", in, &task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

// Update applies a partial edit and returns the refreshed record.
func (c *Client) Update(ctx context.Context, acc model.Account, id int64, in model.TaskUpdate) (*model.Task, error) {
	var task model.Task
	endpoint := fmt.Sprintf("%s/tasks/%d", c.baseURL, id)
	if err := c.do(ctx, acc, http.MethodPut, endpoint, in, &task); err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	return &task, nil
}

// Toggle flips the completion flag to the requested value.
func (c *Client) Toggle(ctx context.Context, acc model.Account, id int64, completed bool) (*model.Task, error) {
	var task model.Task
	endpoint := fmt.Sprintf("%s/tasks/%d/toggle", c.baseURL, id)
	body := map[string]bool{"completed": completed}
	if err := c.do(ctx, acc, http.MethodPatch, endpoint, body, &task); err != nil {
		return nil, fmt.Errorf("toggle task %d: %w", id, err)
	}
	return &task, nil
}

// Delete removes a task permanently.
func (c *Client) Delete(ctx context.Context, acc model.Account, id int64) error {
	endpoint := fmt.Sprintf("%s/tasks/%d", c.baseURL, id)
	if err := c.do(ctx, acc, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, acc model.Account, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acc.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError extracts the service's {"detail": ...} error body when
// present, falling back to the raw text.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
