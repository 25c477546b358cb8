// v0
// internal/app/app_test.go
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogdevsanskar/ecoversa/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.LogFilePath = filepath.Join(t.TempDir(), "logs", "engine.log")
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestNewRejectsEmptyListenAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddress = " "
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewRejectsBadReportSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReportSchedule = "every day"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	application, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, application.Close()) })

	assert.Nil(t, application.publisher)
	assert.Empty(t, application.consumers)
	assert.Nil(t, application.mqtt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, application.health.Ready())
}

func TestTeeLoggerWritesJSONToFile(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf).With(slog.String("component", "test"))
	logger.Info("hello", slog.Int("n", 3))
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["component"])
	assert.EqualValues(t, 3, line["n"])
}

func TestComponentLoggersTagEachRecordOnce(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, application.Close()) })

	rec := httptest.NewRecorder()
	application.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports/2024-07-10", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data, err := os.ReadFile(cfg.LogFilePath)
	require.NoError(t, err)
	var components []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if c, ok := entry["component"].(string); ok {
			components = append(components, c)
		}
	}
	assert.Contains(t, components, "report")
	assert.Contains(t, components, "http")
}
