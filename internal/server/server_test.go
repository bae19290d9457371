package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleops/kettle"
	"github.com/kettleops/kettle/catalog"
	"github.com/kettleops/kettle/internal/broker"
	"github.com/kettleops/kettle/internal/dispatch"
	"github.com/kettleops/kettle/internal/relay"
	"github.com/kettleops/kettle/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBroker struct {
	mu       sync.Mutex
	statuses map[string]broker.Status
	revoked  map[string]bool
	unavail  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		statuses: make(map[string]broker.Status),
		revoked:  make(map[string]bool),
	}
}

func (f *fakeBroker) Submit(ctx context.Context, action string, params map[string]any, queue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavail {
		return "", broker.ErrUnavailable
	}
	return "exec-1", nil
}

func (f *fakeBroker) Poll(ctx context.Context, executionID string) (broker.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[executionID]
	if !ok {
		return broker.Status{State: kettle.StatePending}, nil
	}
	return status, nil
}

func (f *fakeBroker) Revoke(ctx context.Context, executionID string, terminate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[executionID] = terminate
	return nil
}

func (f *fakeBroker) setStatus(executionID string, status broker.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[executionID] = status
}

type fixture struct {
	router   *gin.Engine
	broker   *fakeBroker
	relay    *relay.Memory
	registry *catalog.Registry
	pingErr  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:   newFakeBroker(),
		relay:    relay.NewMemory(time.Hour, nil),
		registry: catalog.New(),
	}
	f.registry.Register(kettle.Action{
		Descriptor: kettle.Descriptor{
			Name:        "clean_cache",
			Group:       "Maintenance",
			Description: "Remove cached files",
			Queue:       "maintenance",
		},
	})

	d := dispatch.New(f.registry, f.broker).WithSyncTimeout(time.Second)
	s := stream.New(f.relay, f.broker, 5*time.Millisecond, nil)
	ping := func(ctx context.Context) error { return f.pingErr }
	f.router = New(f.registry, d, s, ping, nil).Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestListActions(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/actions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var actions map[string]kettle.Descriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	require.Contains(t, actions, "clean_cache")
	assert.Equal(t, "Maintenance", actions["clean_cache"].Group)
	assert.Equal(t, "maintenance", actions["clean_cache"].Queue)
}

func TestExecute_SubmitsAndReturnsStreamURL(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/actions/clean_cache/execute", `{"parameters":{"days":7}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecutionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "exec-1", resp.ExecutionID)
	assert.Equal(t, "clean_cache", resp.ActionName)
	assert.Equal(t, "submitted", resp.Status)
	assert.Equal(t, "/api/executions/exec-1/stream", resp.StreamURL)
}

func TestExecute_EmptyBodyAllowed(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/actions/clean_cache/execute", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExecute_UnknownActionIs404(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/actions/no_such/execute", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Action not found: no_such")
}

func TestExecute_MalformedBodyIs400(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/actions/clean_cache/execute", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecute_BrokerDownIs503(t *testing.T) {
	f := newFixture(t)
	f.broker.unavail = true

	w := f.do(http.MethodPost, "/api/actions/clean_cache/execute", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncExecute_ReturnsInlineResult(t *testing.T) {
	f := newFixture(t)
	f.broker.setStatus("exec-1", broker.Status{
		State: kettle.StateSuccess,
		Info:  map[string]any{"files_deleted": float64(3)},
	})

	w := f.do(http.MethodPost, "/api/actions/clean_cache/sync_execute", `{"parameters":{"days":3}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SyncExecutionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, kettle.StateSuccess, resp.Status)
	assert.Equal(t, map[string]any{"files_deleted": float64(3)}, resp.Result)
}

func TestSyncExecute_FailureCarriesError(t *testing.T) {
	f := newFixture(t)
	f.broker.setStatus("exec-1", broker.Status{State: kettle.StateFailure, Info: "boom"})

	w := f.do(http.MethodPost, "/api/actions/clean_cache/sync_execute", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SyncExecutionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, kettle.StateFailure, resp.Status)
	assert.Equal(t, "boom", resp.Error)
}

func TestStatus_DefaultsToPending(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/executions/unknown-id/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status dispatch.ExecStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, kettle.StatePending, status.State)
	assert.False(t, status.Ready)
	assert.Nil(t, status.Successful)
}

func TestCancel_RequestsTermination(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/executions/exec-9/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
	assert.True(t, f.broker.revoked["exec-9"])
}

func TestStream_EmitsSSEEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.relay.Publish(ctx, "exec-1", kettle.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "INFO",
		Message:   "→ Starting action: clean_cache",
	})
	f.broker.setStatus("exec-1", broker.Status{State: kettle.StateSuccess})

	w := f.do(http.MethodGet, "/api/executions/exec-1/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	frames := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames++
		}
	}
	// connected, one log line, complete.
	assert.Equal(t, 3, frames)
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, "Starting action: clean_cache")
	assert.Contains(t, body, `"type":"complete"`)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.pingErr = context.DeadlineExceeded
	w = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReady(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.registry.Reload()
	w = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
