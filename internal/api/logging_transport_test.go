package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingTransport_RedactsTokenAndKeepsBody(t *testing.T) {
	const token = "123456:SECRET-token"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	lt, err := NewLoggingTransport(nil, logPath, token, "")
	require.NoError(t, err)

	client := &http.Client{Transport: lt}
	resp, err := client.Post(srv.URL+"/bot"+token+"/getUpdates", "application/x-www-form-urlencoded", strings.NewReader("offset=0"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, `{"ok":true,"result":[]}`, string(body))

	require.NoError(t, lt.Close())
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	logged := string(data)

	assert.NotContains(t, logged, token)
	assert.Contains(t, logged, "/bot<redacted>/getUpdates")
	assert.Contains(t, logged, "offset=0")
	assert.Contains(t, logged, `"ok":true`)
}

func TestLoggingTransport_SkipsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain-body-content"))
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	lt, err := NewLoggingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)

	client := &http.Client{Transport: lt}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "plain-body-content", string(body))

	require.NoError(t, lt.Close())
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "(Body not logged)")
	assert.NotContains(t, string(data), "plain-body-content")
}

func TestLoggingTransport_Redact(t *testing.T) {
	lt, err := NewLoggingTransport(nil, filepath.Join(t.TempDir(), "api.log"), "abc")
	require.NoError(t, err)
	defer lt.Close()
	assert.Equal(t, "x<redacted>y<redacted>", lt.Redact("xabcyabc"))
}
