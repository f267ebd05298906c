package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/w3c/groups-server/internal/domain"
)

// Client is the API client for a running groups server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Nudge asks the server to start a refresh cycle
func (c *Client) Nudge() error {
	resp, err := c.httpClient.Post(c.baseURL+"/nudge", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	return nil
}

// GetRepositories retrieves the published repositories associated with a group
func (c *Client) GetRepositories() ([]*domain.Repository, error) {
	var repos []*domain.Repository
	if err := c.get("/data/repositories", nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// GetGroups retrieves the published group catalog
func (c *Client) GetGroups() ([]*domain.Group, error) {
	var groups []*domain.Group
	if err := c.get("/data/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListRuns retrieves the most recent refresh cycles
func (c *Client) ListRuns(limit int) ([]*domain.CycleRun, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CycleRun `json:"data"`
	}
	if err := c.get("/api/v1/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one refresh cycle
func (c *Client) GetRun(id string) (*domain.CycleRun, error) {
	var response struct {
		Data *domain.CycleRun `json:"data"`
	}
	if err := c.get("/api/v1/runs/"+url.PathEscape(id), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
