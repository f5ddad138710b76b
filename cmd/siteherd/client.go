package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keithk/siteherd"
)

// APIClient talks to a running siteherd daemon over its control API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8420"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) StartProcess(spec siteherd.LaunchSpec) (siteherd.Summary, error) {
	var sum siteherd.Summary
	data, err := json.Marshal(spec)
	if err != nil {
		return sum, err
	}
	resp, err := c.client.Post(c.baseURL+"/processes/start", "application/json", bytes.NewReader(data))
	if err != nil {
		return sum, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return sum, err
	}
	return sum, json.NewDecoder(resp.Body).Decode(&sum)
}

func (c *APIClient) StopProcess(site string, port int, wait time.Duration) error {
	q := identityQuery(site, port)
	q.Set("wait", wait.String())
	resp, err := c.client.Post(c.baseURL+"/processes/stop?"+q.Encode(), "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *APIClient) RestartProcess(site string, port int) (siteherd.Summary, error) {
	var sum siteherd.Summary
	q := identityQuery(site, port)
	resp, err := c.client.Post(c.baseURL+"/processes/restart?"+q.Encode(), "application/json", nil)
	if err != nil {
		return sum, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return sum, err
	}
	return sum, json.NewDecoder(resp.Body).Decode(&sum)
}

func (c *APIClient) RestartSite(site string) ([]siteherd.Summary, error) {
	q := url.Values{}
	q.Set("site", site)
	resp, err := c.client.Post(c.baseURL+"/processes/restart-site?"+q.Encode(), "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var sums []siteherd.Summary
	return sums, json.NewDecoder(resp.Body).Decode(&sums)
}

func (c *APIClient) ListProcesses() ([]siteherd.Summary, error) {
	resp, err := c.client.Get(c.baseURL + "/processes")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var sums []siteherd.Summary
	return sums, json.NewDecoder(resp.Body).Decode(&sums)
}

func (c *APIClient) ProcessStatus(site string, port int) (bool, error) {
	q := identityQuery(site, port)
	resp, err := c.client.Get(c.baseURL + "/processes/status?" + q.Encode())
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return false, err
	}
	var st struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false, err
	}
	return st.Running, nil
}

func identityQuery(site string, port int) url.Values {
	q := url.Values{}
	q.Set("site", site)
	q.Set("port", strconv.Itoa(port))
	return q
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return fmt.Errorf("daemon error: %s", er.Error)
}
