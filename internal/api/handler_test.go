package api

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/metrics"
	"github.com/w3c/groups-server/internal/publish"
	"github.com/w3c/groups-server/internal/reconciler"
)

type fakeCycles struct {
	mu       sync.Mutex
	triggers []string
	last     *domain.CycleRun
}

func (f *fakeCycles) Trigger(trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
}

func (f *fakeCycles) Last() *domain.CycleRun {
	return f.last
}

type fakeHistory struct {
	runs []*domain.CycleRun
}

func (f *fakeHistory) SaveRun(context.Context, *domain.CycleRun) error { return nil }

func (f *fakeHistory) GetRun(_ context.Context, id string) (*domain.CycleRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperrors.NewNotFoundError("run " + id)
}

func (f *fakeHistory) ListRuns(_ context.Context, limit int) ([]*domain.CycleRun, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeHistory) Migrate(context.Context) error { return nil }
func (f *fakeHistory) Close() error                  { return nil }

func setup(t *testing.T, history *fakeHistory) (*gin.Engine, *fakeCycles, *publish.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cycles := &fakeCycles{}
	store := publish.NewStore(t.TempDir())
	reg := prometheus.NewRegistry()
	metrics.New(reg).IncArtifact(true)
	log := zerolog.Nop()

	var h *Handler
	if history == nil {
		h = NewHandler(cycles, store, nil)
	} else {
		h = NewHandler(cycles, store, history)
	}
	return SetupRoutes(h, reg, &log), cycles, store
}

func do(router http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestNudge(t *testing.T) {
	router, cycles, _ := setup(t, nil)

	w := do(router, http.MethodPost, "/nudge")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{reconciler.TriggerManual}, cycles.triggers)
}

func TestGetArtifact(t *testing.T) {
	router, _, store := setup(t, nil)

	w := do(router, http.MethodGet, "/data/repositories")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := store.Save(context.Background(), publish.GroupRepositories, []map[string]string{{"name": "csswg-drafts"}})
	require.NoError(t, err)

	w = do(router, http.MethodGet, "/data/repositories")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
	assert.JSONEq(t, `[{"name": "csswg-drafts"}]`, w.Body.String())

	w = do(router, http.MethodGet, "/data/identifiers")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router, cycles, _ := setup(t, nil)

	w := do(router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())

	cycles.last = &domain.CycleRun{ID: "run-1", Status: domain.RunStatusCompleted, StartedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	w = do(router, http.MethodGet, "/health")
	var body struct {
		LastRun domain.CycleRun `json:"lastRun"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.LastRun.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := setup(t, nil)

	w := do(router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "groups_artifacts_total")
}

func TestRuns(t *testing.T) {
	history := &fakeHistory{runs: []*domain.CycleRun{
		{ID: "run-2", Status: domain.RunStatusFailed, Error: "no groups loaded from the directory"},
		{ID: "run-1", Status: domain.RunStatusCompleted},
	}}
	router, _, _ := setup(t, history)

	w := do(router, http.MethodGet, "/api/v1/runs?limit=1")
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []domain.CycleRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "run-2", list.Data[0].ID)

	w = do(router, http.MethodGet, "/api/v1/runs/run-1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/runs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeNotFound))
}

func TestRunsWithoutHistory(t *testing.T) {
	router, _, _ := setup(t, nil)

	w := do(router, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
