package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/storage"
)

type fakeLedger struct {
	runs []*models.RunRecord
	err  error
}

func (f *fakeLedger) ListRuns(limit int) ([]*models.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeLedger) GetLatestSuccess() (*models.RunRecord, error) {
	for _, r := range f.runs {
		if r.Outcome.Succeeded() {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) GetStorageStats() (*storage.StorageStats, error) {
	return &storage.StorageStats{TotalRuns: int64(len(f.runs))}, nil
}

func testSettings() config.DashboardSettings {
	return config.DashboardSettings{
		RefreshInterval:  30 * time.Second,
		Contamination:    0.1,
		MaxDisplayPoints: 100,
		RecentRows:       10,
		ForecastHorizon:  6,
		ForecastLags:     3,
	}
}

func newTestDashboard(t *testing.T, rows []models.Reading, ledger RunLedger) (*Dashboard, *fakeObjects) {
	t.Helper()
	objs := newFakeObjects()
	if rows != nil {
		seed(t, objs, rows)
	}
	loader := NewLoader(objs, tablePath, time.Minute, zerolog.Nop())
	return NewDashboard(loader, ledger, testSettings(), zerolog.Nop()), objs
}

func newTestMux(d *Dashboard) *http.ServeMux {
	mux := http.NewServeMux()
	NewAPIHandler(d, "test", zerolog.Nop()).Register(mux)
	return mux
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestParseContamination(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"1", 0.01, false},
		{"10", 0.10, false},
		{"25", 0.25, false},
		{"0.5", 0, true},
		{"26", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseContamination(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAPI_Snapshot(t *testing.T) {
	d, _ := newTestDashboard(t, series(20, func(i int) float64 { return float64(30000 + i) }), nil)
	rec := get(t, newTestMux(d), "/api/snapshot?contamination=5")

	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 20, snap.TotalRows)
	assert.InDelta(t, 0.05, snap.Contamination, 1e-12)
	assert.Len(t, snap.Chart, 20)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 30019.0, snap.Latest.PowerMW)
}

func TestAPI_SnapshotBadContamination(t *testing.T) {
	d, _ := newTestDashboard(t, nil, nil)
	rec := get(t, newTestMux(d), "/api/snapshot?contamination=90")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_StoreUnavailable(t *testing.T) {
	d, objs := newTestDashboard(t, nil, nil)
	objs.getErr = errors.New("boom")

	rec := get(t, newTestMux(d), "/api/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var msg models.ErrorMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "store_unavailable", msg.Code)
}

func TestAPI_CurrentNoData(t *testing.T) {
	d, _ := newTestDashboard(t, nil, nil)
	rec := get(t, newTestMux(d), "/api/current")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Current(t *testing.T) {
	d, _ := newTestDashboard(t, series(3, func(i int) float64 { return float64(i) }), nil)
	rec := get(t, newTestMux(d), "/api/current")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reading models.Reading `json:"reading"`
		Anomaly bool           `json:"anomaly"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2.0, body.Reading.PowerMW)
}

func TestAPI_History(t *testing.T) {
	d, _ := newTestDashboard(t, series(10, func(i int) float64 { return float64(i) }), nil)
	mux := newTestMux(d)

	rec := get(t, mux, "/api/history?limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, 9.0, rows[0].PowerMW)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/history?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/history?limit=x").Code)
}

func TestAPI_RunsDisabled(t *testing.T) {
	d, _ := newTestDashboard(t, nil, nil)
	rec := get(t, newTestMux(d), "/api/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Runs(t *testing.T) {
	ledger := &fakeLedger{runs: []*models.RunRecord{
		{ID: "b", Outcome: models.RunOutcomeNoData},
		{ID: "a", Outcome: models.RunOutcomeCommitted, CommitID: "c1"},
	}}
	d, _ := newTestDashboard(t, nil, ledger)
	mux := newTestMux(d)

	rec := get(t, mux, "/api/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	ledger.err = errors.New("db closed")
	assert.Equal(t, http.StatusInternalServerError, get(t, mux, "/api/runs").Code)
}

func TestAPI_Stats(t *testing.T) {
	ledger := &fakeLedger{runs: []*models.RunRecord{
		{ID: "a", Outcome: models.RunOutcomeCommitted, CommitID: "c1"},
	}}
	d, _ := newTestDashboard(t, series(5, func(i int) float64 { return float64(i) }), ledger)
	rec := get(t, newTestMux(d), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.TotalRows)
	require.NotNil(t, resp.Ledger)
	assert.Equal(t, int64(1), resp.Ledger.TotalRuns)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "c1", resp.LastRun.CommitID)
}

func TestAPI_Health(t *testing.T) {
	d, _ := newTestDashboard(t, nil, nil)
	rec := get(t, newTestMux(d), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestPage(t *testing.T) {
	d, _ := newTestDashboard(t, nil, nil)
	page := NewPageHandler(d, "v-test", zerolog.Nop())

	rec := get(t, page, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `value="10"`)
	assert.Contains(t, body, "Refresh every 30s")
	assert.Contains(t, body, "v-test")

	assert.Equal(t, http.StatusNotFound, get(t, page, "/missing").Code)
}
