package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient talks to a running flockd daemon over its ops API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8440"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) GetStatus() (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON("/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) GetWorkers() ([]map[string]any, error) {
	var out []map[string]any
	if err := c.getJSON("/workers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) Scale(target int) error {
	body, _ := json.Marshal(map[string]int{"target": target})
	resp, err := c.client.Post(c.baseURL+"/scale", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *APIClient) StopWorker(id string, graceful bool) error {
	url := fmt.Sprintf("%s/workers/%s/stop", c.baseURL, id)
	if !graceful {
		url += "?graceful=false"
	}
	resp, err := c.client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *APIClient) getJSON(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil && errorResp.Error != "" {
		return fmt.Errorf("daemon error: %s", errorResp.Error)
	}
	return fmt.Errorf("daemon returned status %d", resp.StatusCode)
}
