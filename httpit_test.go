package httpit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/httpit/internal/history"
	"github.com/loykin/httpit/internal/history/factory"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	script := filepath.Join(t.TempDir(), "webfsd")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	c := DefaultConfig()
	c.Root = t.TempDir()
	c.Binary = script
	c.StopTimeout = time.Second
	c.PollInterval = 50 * time.Millisecond
	return c
}

func TestNewValidates(t *testing.T) {
	c := testConfig(t)
	c.Port = 0
	_, err := New(c)
	assert.ErrorIs(t, err, ErrInvalidPort)

	c = testConfig(t)
	c.Root = filepath.Join(t.TempDir(), "missing")
	_, err = New(c)
	assert.ErrorIs(t, err, ErrRootMissing)

	_, err = New(testConfig(t), WithEnv("BROKEN"))
	assert.Error(t, err)
}

func TestLifecycleAndHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	srv, err := New(testConfig(t), WithHistoryDSN(dsn))
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Start(), ErrAlreadyRunning)
	require.NoError(t, srv.Restart())
	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Stop(), ErrNotRunning)
	require.NoError(t, srv.Close())

	r, err := factory.OpenReader(context.Background(), dsn)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	events, err := r.Query(context.Background(), history.Filter{})
	require.NoError(t, err)
	var types []history.EventType
	for i := len(events) - 1; i >= 0; i-- {
		types = append(types, events[i].Type)
	}
	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop, history.EventStart, history.EventStop}, types)
}

func TestServeForeverHonoursContext(t *testing.T) {
	srv, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeForever(ctx) }()
	require.Eventually(t, srv.IsRunning, 2*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeForever did not return")
	}
	assert.False(t, srv.IsRunning())
}

func TestControlHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	h, err := ControlHandler(srv, ControlOptions{BasePath: "/api", Auth: AuthConfig{Token: "k"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/start", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/start", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, srv.IsRunning())

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, srv.PID(), st.PID)

	_, err = ControlHandler(srv, ControlOptions{Auth: AuthConfig{Basic: "nocolon"}})
	assert.Error(t, err)
}

func TestCollectResources(t *testing.T) {
	srv, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.Start())

	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.CollectResources(ctx, reg, 20*time.Millisecond))

	require.Eventually(t, func() bool {
		mfs, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, mf := range mfs {
			if mf.GetName() == "httpit_server_memory_rss_bytes" && mf.GetMetric()[0].GetGauge().GetValue() > 0 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "httpit.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 9999\nno-listing: true\n"), 0o644))
	c, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Port)
	assert.True(t, c.NoListing)
	assert.Equal(t, DefaultConfig().Timeout, c.Timeout)
}
