package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestChecker_Status(t *testing.T) {
	tests := []struct {
		name      string
		warning   CheckFunc
		critical  CheckFunc
		status    Status
		wantReady bool
	}{
		{name: "all healthy", warning: ok, critical: ok, status: StatusHealthy, wantReady: true},
		{name: "warning fails", warning: failing("backlog"), critical: ok, status: StatusDegraded, wantReady: true},
		{name: "critical fails", warning: ok, critical: failing("engine closed"), status: StatusUnhealthy, wantReady: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChecker(0, 0, zap.NewNop())
			h.Register("backlog", SeverityWarning, tt.warning)
			h.Register("engine", SeverityCritical, tt.critical)

			h.RunChecks(context.Background())
			assert.Equal(t, tt.status, h.Status())
			assert.Equal(t, tt.wantReady, h.IsReady())

			results := h.Results()
			require.Len(t, results, 2)
			assert.Equal(t, "backlog", results[0].Name)
			assert.Equal(t, "engine", results[1].Name)
		})
	}
}

func TestChecker_RecoversOnNextRun(t *testing.T) {
	h := NewChecker(0, 0, zap.NewNop())
	healthy := false
	h.Register("engine", SeverityCritical, func(context.Context) error {
		if !healthy {
			return errors.New("down")
		}
		return nil
	})

	h.RunChecks(context.Background())
	assert.False(t, h.IsReady())

	healthy = true
	h.RunChecks(context.Background())
	assert.True(t, h.IsReady())
}

func TestChecker_Draining(t *testing.T) {
	h := NewChecker(0, 0, zap.NewNop())
	h.Register("engine", SeverityCritical, ok)
	h.RunChecks(context.Background())

	h.SetDraining(true)
	assert.False(t, h.IsReady())
	assert.Equal(t, StatusHealthy, h.Status())
}

func TestReadinessHandler(t *testing.T) {
	h := NewChecker(0, 0, zap.NewNop())
	h.Register("repair_store", SeverityCritical, failing("redis unreachable"))
	h.RunChecks(context.Background())

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, string(StatusUnhealthy), body["status"])

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDataDirCheck(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, DataDirCheck(dir)(context.Background()))
	assert.Error(t, DataDirCheck(filepath.Join(dir, "missing"))(context.Background()))
}

func TestBacklogCheck(t *testing.T) {
	count := func(n int64, err error) func(context.Context) (int64, error) {
		return func(context.Context) (int64, error) { return n, err }
	}
	assert.NoError(t, BacklogCheck(count(10, nil), 10)(context.Background()))
	assert.Error(t, BacklogCheck(count(11, nil), 10)(context.Background()))
	assert.Error(t, BacklogCheck(count(0, errors.New("store down")), 10)(context.Background()))
}
