package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pupctl/internal/middleware"
	"pupctl/internal/models"
	"pupctl/internal/service"
)

func newTestRouter(t *testing.T) (*Router, *service.ProcessManager) {
	t.Helper()
	pm := service.NewProcessManager(nil, service.WithLogDir(t.TempDir()))
	t.Cleanup(func() { _ = pm.StopAll() })
	return NewRouter(pm, "1.2.3", zap.NewNop()), pm
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	r, pm := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	_, err := pm.Create(models.StartRequest{Name: "a", Script: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	ready := decode[models.HealthResponse](t, do(t, r, http.MethodGet, "/ready", ""))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 1, ready.Running)
	assert.Equal(t, 1, ready.Total)
}

func TestProcessRoutes(t *testing.T) {
	r, pm := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/processes",
		`{"name":"New conn","script":"/bin/sh","args":["-c","echo hi; sleep 30"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Process](t, rec)
	assert.Equal(t, models.StatusRunning, created.Status)

	list := decode[[]models.Process](t, do(t, r, http.MethodGet, "/api/processes", ""))
	require.Len(t, list, 1)
	assert.Equal(t, "New conn", list[0].Name)

	rec = do(t, r, http.MethodGet, "/api/processes/New%20conn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New conn", decode[models.Process](t, rec).Name)

	rec = do(t, r, http.MethodPost, "/api/processes/New%20conn/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[models.SuccessResponse](t, rec).Status)

	rec = do(t, r, http.MethodPost, "/api/processes/New%20conn/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/processes/New%20conn/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(pm.GetLogsByProcess("New conn", 100)) > 0
	}, 3*time.Second, 20*time.Millisecond)
	rec = do(t, r, http.MethodGet, "/api/logs/New%20conn?limit=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]models.LogEntry](t, rec))

	rec = do(t, r, http.MethodDelete, "/api/processes/New%20conn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Process](t, do(t, r, http.MethodGet, "/api/processes", "")))
}

func TestErrorStatuses(t *testing.T) {
	r, pm := newTestRouter(t)
	_, err := pm.Create(models.StartRequest{Name: "busy", Script: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"describe missing", http.MethodGet, "/api/processes/ghost", "", http.StatusNotFound},
		{"stop missing", http.MethodPost, "/api/processes/ghost/stop", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/processes/ghost", "", http.StatusNotFound},
		{"start running", http.MethodPost, "/api/processes/busy/start", "", http.StatusConflict},
		{"create existing", http.MethodPost, "/api/processes", `{"name":"busy","script":"/bin/true"}`, http.StatusConflict},
		{"create without script", http.MethodPost, "/api/processes", `{"name":"x"}`, http.StatusBadRequest},
		{"create bad json", http.MethodPost, "/api/processes", `{`, http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/processes/busy", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusMethodNotAllowed {
				body := decode[models.ErrorResponse](t, rec)
				assert.NotEmpty(t, body.Error)
			}
		})
	}
}

func TestLogsLimitAndLevel(t *testing.T) {
	r, pm := newTestRouter(t)
	_, err := pm.Create(models.StartRequest{Name: "chatty", Script: "/bin/sh", Args: []string{"-c", "for i in 1 2 3 4 5; do echo $i; done; echo bad >&2"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, _ := pm.GetProcess("chatty")
		return p.Status == models.StatusStopped
	}, 3*time.Second, 20*time.Millisecond)

	logs := decode[[]models.LogEntry](t, do(t, r, http.MethodGet, "/api/logs?limit=2", ""))
	assert.Len(t, logs, 2)

	errs := decode[[]models.LogEntry](t, do(t, r, http.MethodGet, "/api/logs?level=error", ""))
	require.NotEmpty(t, errs)
	for _, e := range errs {
		assert.Equal(t, "error", e.Level)
	}
}

func TestBusStreamsEvents(t *testing.T) {
	r, pm := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/bus", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	_, err = pm.Create(models.StartRequest{Name: "sse", Script: "/bin/sh", Args: []string{"-c", "echo over-sse >&2"}})
	require.NoError(t, err)

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "log:err", event)

	var p models.LogPacket
	require.NoError(t, json.Unmarshal([]byte(data), &p))
	assert.Equal(t, "sse", p.Process.Name)
	assert.Equal(t, "[sse] over-sse", p.Data)
	assert.Equal(t, models.StreamErr, p.Stream)
	cancel()
}
