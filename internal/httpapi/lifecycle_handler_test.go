package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/lifecycle"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
)

const testCatalogYAML = `
channels:
  news-1:
    inputs:
      - kind: reliable-stream
        uri: srt://source:9000
    transcoding:
      video:
        streams:
          - codec: passthrough
      audio:
        codec: passthrough
    mux:
      program-number: 1
      video-pids: ["0x100"]
      audio-pid: "0x101"
    outputs:
      - kind: datagram
        host: 239.1.1.1
        port: 5000
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))

	cat, err := config.NewLoader().Load(catalogPath)
	require.NoError(t, err)

	rs := runstate.New(filepath.Join(dir, "running"))
	manager := lifecycle.NewManager(cat, rs, filepath.Join(dir, "handoff"), filepath.Join(dir, "logs"), 0, 0, 0, nil)

	srv := NewServer(DefaultServerConfig(), nil, "test")
	srv.Mount(NewLifecycleHandler(manager, nil))
	return srv
}

func TestServer_ListChannels(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "news-1")
}

func TestServer_StatusUnknownChannelReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/does-not-exist/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StatusKnownChannelNotRunning(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/news-1/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}

func TestServer_AllChannelsStatus(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
	assert.Contains(t, rec.Body.String(), "news-1")
}

func TestServer_HealthzReturnsOK(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
