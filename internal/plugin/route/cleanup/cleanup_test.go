package cleanup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	gate    *flight.Gate
	release chan struct{}

	mu      sync.Mutex
	opts    []service.CleanupOptions
	lastRun *service.RunReport
}

func newFake() *fakeOrchestrator {
	return &fakeOrchestrator{gate: flight.New("cleanup", time.Hour)}
}

func (f *fakeOrchestrator) Trigger(ctx context.Context, opts service.CleanupOptions) *flight.Flight {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	_, fl := f.gate.Do(ctx, opts.Force, func(context.Context) {
		if f.release != nil {
			<-f.release
		}
		f.mu.Lock()
		f.lastRun = &service.RunReport{ID: "run-1", Force: opts.Force}
		f.mu.Unlock()
	})
	return fl
}

func (f *fakeOrchestrator) CleanupState() flight.Snapshot { return f.gate.Snapshot() }
func (f *fakeOrchestrator) CompanionState() flight.Snapshot { return flight.Snapshot{} }

func (f *fakeOrchestrator) LastRun() (service.RunReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastRun == nil {
		return service.RunReport{}, false
	}
	return *f.lastRun, true
}

func newRouter(orch Orchestrator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountRoutes(r, orch, func() service.CleanupOptions {
		return service.CleanupOptions{OnRotateDeviceKeys: func(context.Context) (bool, error) { return true, nil }}
	})
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/cleanup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestTriggerWaitReturnsReport(t *testing.T) {
	orch := newFake()
	r := newRouter(orch)

	rec := post(r, `{"force":true,"skipNetwork":true,"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var report service.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "run-1", report.ID)

	require.Len(t, orch.opts, 1)
	require.True(t, orch.opts[0].Force)
	require.True(t, orch.opts[0].SkipNetwork)
	require.NotNil(t, orch.opts[0].OnRotateDeviceKeys)
}

func TestTriggerThrottledAndAsync(t *testing.T) {
	orch := newFake()
	orch.release = make(chan struct{})
	r := newRouter(orch)

	require.Equal(t, http.StatusAccepted, post(r, ``).Code)
	require.Equal(t, http.StatusAccepted, post(r, `{}`).Code, "joins the running flight")

	close(orch.release)
	require.Eventually(t, func() bool { return !orch.gate.Snapshot().InFlight }, 5*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusNoContent, post(r, `{}`).Code)
}

func TestTriggerRejectsMalformedBody(t *testing.T) {
	r := newRouter(newFake())
	require.Equal(t, http.StatusBadRequest, post(r, `{"force":`).Code)
}

func TestStatus(t *testing.T) {
	orch := newFake()
	r := newRouter(orch)
	require.Equal(t, http.StatusOK, post(r, `{"wait":true}`).Code)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cleanup", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cleanup struct {
			InFlight      bool      `json:"inFlight"`
			LastStartedAt time.Time `json:"lastStartedAt"`
		} `json:"cleanup"`
		LastRun *service.RunReport `json:"lastRun"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Cleanup.InFlight)
	require.False(t, body.Cleanup.LastStartedAt.IsZero())
	require.NotNil(t, body.LastRun)
}
