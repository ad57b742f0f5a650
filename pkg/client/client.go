package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to a running trusdxd over its HTTP API.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. "http://localhost:8073".
func New(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// apiError is the error envelope every endpoint uses.
type apiError struct {
	Error string `json:"error"`
}

func (c *APIClient) do(method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon error: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *APIClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

// Status returns the daemon status summary.
func (c *APIClient) Status() (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := c.get("/api/v1/status", &status); err != nil {
		return nil, err
	}
	return status, nil
}

// RadioState returns the full emulated radio state.
func (c *APIClient) RadioState() (map[string]interface{}, error) {
	var state map[string]interface{}
	if err := c.get("/api/v1/state", &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetPTT keys or unkeys the radio.
func (c *APIClient) SetPTT(on bool) error {
	return c.do(http.MethodPost, "/api/v1/ptt", map[string]bool{"tx": on}, nil)
}

// SetFrequency tunes VFO A to the given frequency in hertz.
func (c *APIClient) SetFrequency(hz int64) error {
	return c.do(http.MethodPut, "/api/v1/radio/frequency", map[string]int64{"frequency": hz}, nil)
}

// AudioDevices returns the host sound devices the daemon can see.
func (c *APIClient) AudioDevices() (map[string]interface{}, error) {
	var devices map[string]interface{}
	if err := c.get("/api/v1/devices/audio", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// SerialDevices returns candidate radio serial ports.
func (c *APIClient) SerialDevices() ([]string, error) {
	var resp struct {
		SerialDevices []string `json:"serial_devices"`
	}
	if err := c.get("/api/v1/devices/serial", &resp); err != nil {
		return nil, err
	}
	return resp.SerialDevices, nil
}

// AudioLevels returns the TX audio meters and pipeline counters.
func (c *APIClient) AudioLevels() (map[string]interface{}, error) {
	var levels map[string]interface{}
	if err := c.get("/api/v1/audio/levels", &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// IsUp reports whether the daemon answers its status endpoint.
func (c *APIClient) IsUp() bool {
	_, err := c.Status()
	return err == nil
}
