package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   "connected",
			"version": "0.1.0-dev",
		})
	}))
	defer server.Close()

	c := New(server.URL)
	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "connected", status["state"])
}

func TestErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "link down"})
	}))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Status()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link down")
}

func TestSetPTT(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.SetPTT(true))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/ptt", gotPath)
	assert.True(t, gotBody["tx"], "request body should carry tx true")
}

func TestSetFrequency(t *testing.T) {
	var gotMethod string
	var gotBody map[string]int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.SetFrequency(14074000))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, int64(14074000), gotBody["frequency"])
}

func TestSerialDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{
			"serial_devices": {"/dev/ttyUSB0", "/dev/ttyUSB1"},
		})
	}))
	defer server.Close()

	c := New(server.URL)
	devices, err := c.SerialDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, devices)
}

func TestIsUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "connected"})
	}))

	c := New(server.URL)
	assert.True(t, c.IsUp(), "daemon should look up while the server runs")

	server.Close()
	assert.False(t, c.IsUp(), "daemon should look down after the server closes")
}
