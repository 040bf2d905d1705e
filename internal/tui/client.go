package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the flightops API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

type planJSON struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	Status                 string    `json:"status"`
	WorkerID               *int64    `json:"worker_id"`
	ResultID               *int64    `json:"result_id"`
	AuthorizationStatus    string    `json:"authorization_status"`
	AuthorizationMessage   string    `json:"authorization_message"`
	ExternalResponseNumber string    `json:"external_response_number"`
	Owner                  string    `json:"owner"`
	Folder                 string    `json:"folder"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (p planJSON) item() PlanItem {
	item := PlanItem{
		ID:            p.ID,
		Name:          p.Name,
		Status:        p.Status,
		Authorization: p.AuthorizationStatus,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.WorkerID != nil {
		item.WorkerID = *p.WorkerID
	}
	return item
}

func (p planJSON) detail() *PlanDetail {
	return &PlanDetail{
		PlanItem:               p.item(),
		Owner:                  p.Owner,
		Folder:                 p.Folder,
		ExternalResponseNumber: p.ExternalResponseNumber,
		AuthorizationMessage:   p.AuthorizationMessage,
		HasResult:              p.ResultID != nil,
		CreatedAt:              p.CreatedAt,
	}
}

// ListPlans fetches plans from the API
func (c *Client) ListPlans(status string) ([]PlanItem, error) {
	path := "/plans"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var plans []planJSON
	if err := c.get(path, &plans); err != nil {
		return nil, err
	}

	items := make([]PlanItem, len(plans))
	for i, p := range plans {
		items[i] = p.item()
	}
	return items, nil
}

// GetPlan fetches a single plan
func (c *Client) GetPlan(id int64) (*PlanDetail, error) {
	var plan planJSON
	if err := c.get("/plans/"+strconv.FormatInt(id, 10), &plan); err != nil {
		return nil, err
	}
	return plan.detail(), nil
}

// GetPlanAudit fetches the most recent assignment records of a plan
func (c *Client) GetPlanAudit(id int64, limit int) ([]AuditItem, error) {
	var records []struct {
		Action    string    `json:"action"`
		WorkerID  int64     `json:"worker_id"`
		Outcome   string    `json:"outcome"`
		Details   string    `json:"details"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.get(fmt.Sprintf("/audit?plan_id=%d&limit=%d", id, limit), &records); err != nil {
		return nil, err
	}

	items := make([]AuditItem, len(records))
	for i, r := range records {
		items[i] = AuditItem{
			Action:    r.Action,
			WorkerID:  r.WorkerID,
			Outcome:   r.Outcome,
			Details:   r.Details,
			Timestamp: r.Timestamp,
		}
	}
	return items, nil
}

// CreatePlan enqueues a new plan
func (c *Client) CreatePlan(name, payload string) (int64, error) {
	body := map[string]string{
		"name":    name,
		"payload": payload,
	}
	var plan planJSON
	if err := c.send(http.MethodPost, "/plans", body, &plan); err != nil {
		return 0, err
	}
	return plan.ID, nil
}

// RetryPlan returns a plan to the queue, discarding any prior result
func (c *Client) RetryPlan(id int64) error {
	return c.send(http.MethodPost, "/plans/"+strconv.FormatInt(id, 10)+"/queue", nil, nil)
}

// ListWorkers fetches the worker pool
func (c *Client) ListWorkers() ([]WorkerItem, error) {
	var workers []struct {
		ID           int64     `json:"id"`
		Name         string    `json:"name"`
		Address      string    `json:"address"`
		Availability string    `json:"availability"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
	if err := c.get("/workers", &workers); err != nil {
		return nil, err
	}

	items := make([]WorkerItem, len(workers))
	for i, w := range workers {
		items[i] = WorkerItem{
			ID:           w.ID,
			Name:         w.Name,
			Address:      w.Address,
			Availability: w.Availability,
			UpdatedAt:    w.UpdatedAt,
		}
	}
	return items, nil
}

// AddWorker registers a worker
func (c *Client) AddWorker(name, address string) error {
	body := map[string]string{
		"name":    name,
		"address": address,
	}
	return c.send(http.MethodPost, "/workers", body, nil)
}

// SetWorkerAvailability overrides a worker's availability
func (c *Client) SetWorkerAvailability(id int64, availability string) error {
	body := map[string]string{"availability": availability}
	return c.send(http.MethodPut, "/workers/"+strconv.FormatInt(id, 10)+"/status", body, nil)
}

// RemoveWorker deletes a worker
func (c *Client) RemoveWorker(id int64) error {
	return c.send(http.MethodDelete, "/workers/"+strconv.FormatInt(id, 10), nil, nil)
}

// GetStats fetches scheduler statistics
func (c *Client) GetStats() (*SchedulerStats, error) {
	var stats SchedulerStats
	if err := c.get("/scheduler/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) get(path string, out interface{}) error {
	return c.send(http.MethodGet, path, nil, out)
}

func (c *Client) send(method, path string, data, out interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// apiError prefers the problem detail over the raw body.
func apiError(status int, body []byte) error {
	var problem struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &problem) == nil && problem.Detail != "" {
		return fmt.Errorf("API error (%d): %s", status, problem.Detail)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}
