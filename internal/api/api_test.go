package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/zek/internal/alerts"
	"github.com/Dicklesworthstone/zek/internal/anomaly"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
)

type fakeSource struct {
	history []*model.Snapshot
	since   time.Duration
	stats   supervisor.Stats
}

func (f *fakeSource) Latest() *model.Snapshot {
	if len(f.history) == 0 {
		return nil
	}
	return f.history[len(f.history)-1]
}

func (f *fakeSource) HistorySince(d time.Duration) []*model.Snapshot {
	f.since = d
	return f.history[len(f.history)-1:]
}

func (f *fakeSource) HistoryAll() []*model.Snapshot { return f.history }

func (f *fakeSource) Stats() supervisor.Stats { return f.stats }

func populated() *fakeSource {
	parent := int32(1)
	return &fakeSource{
		history: []*model.Snapshot{
			{CapturedAt: 1000, CPUTotalPercent: 10},
			{
				CapturedAt:      2000,
				CPUTotalPercent: 35,
				Host:            model.Host{Hostname: "box"},
				ProcessForest: []model.ProcessNode{{
					PID:  1,
					Name: "init",
					Children: []model.ProcessNode{
						{PID: 2, Name: "sh", ParentPID: &parent},
					},
				}},
			},
		},
		stats: supervisor.Stats{Running: true, Ticks: 2},
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSnapshot_NoDataYet(t *testing.T) {
	h := New(&fakeSource{}, nil, logger.Discard()).Handler()

	rec := get(t, h, "/api/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"no-data-yet"}`, rec.Body.String())
}

func TestSnapshot_Latest(t *testing.T) {
	h := New(populated(), nil, logger.Discard()).Handler()

	rec := get(t, h, "/api/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(2000), snap.CapturedAt)
	assert.Equal(t, 35.0, snap.CPUTotalPercent)
}

func TestHistory(t *testing.T) {
	src := populated()
	h := New(src, nil, logger.Discard()).Handler()

	var all []model.Snapshot
	rec := get(t, h, "/api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	var recent []model.Snapshot
	rec = get(t, h, "/api/history?since=90s")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Len(t, recent, 1)
	assert.Equal(t, 90*time.Second, src.since)

	for _, bad := range []string{"soon", "-5m"} {
		rec = get(t, h, "/api/history?since="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Contains(t, rec.Body.String(), "invalid since")
	}
}

func TestProcessTreeAndSystem(t *testing.T) {
	h := New(populated(), nil, logger.Discard()).Handler()

	var forest []model.ProcessNode
	rec := get(t, h, "/api/processes/tree")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forest))
	require.Len(t, forest, 1)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, int32(1), *forest[0].Children[0].ParentPID)

	rec = get(t, h, "/api/system")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hostname":"box"`)

	empty := New(&fakeSource{}, nil, logger.Discard()).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty, "/api/processes/tree").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty, "/api/system").Code)
}

func TestAlerts(t *testing.T) {
	rec := get(t, New(populated(), nil, logger.Discard()).Handler(), "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	am, err := alerts.NewManager(logger.Discard(),
		alerts.Rule{ID: "hot", Name: "hot", Metric: "cpu_usage", Operator: "gt", Threshold: 30})
	require.NoError(t, err)
	am.Evaluate(populated().Latest())

	rec = get(t, New(populated(), am, logger.Discard()).Handler(), "/api/alerts")
	var list []alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Triggered)
}

func post(t *testing.T, h http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return rec
}

func TestAddAlert(t *testing.T) {
	am, err := alerts.NewManager(logger.Discard())
	require.NoError(t, err)
	h := New(populated(), am, logger.Discard()).Handler()

	rec := post(t, h, "/api/alerts", `{"id":"hot","name":"hot","metric":"cpu_usage","operator":">","threshold":30}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "hot", created.Rule.Key())
	assert.Equal(t, string(alerts.GreaterThan), created.Rule.Operator)

	got, ok := am.Get("hot")
	require.True(t, ok)
	assert.Equal(t, 30.0, got.Rule.Threshold)

	// the new rule is evaluated like a configured one
	am.Evaluate(populated().Latest())
	var list []alerts.Alert
	require.NoError(t, json.Unmarshal(get(t, h, "/api/alerts").Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Triggered)

	rec = post(t, h, "/api/alerts", `{"id":"hot","metric":"load1","operator":"gt","threshold":4}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, bad := range []string{
		`{"id":"x","metric":"cpu_usage","operator":"~","threshold":1}`,
		`{"id":"","metric":"cpu_usage","operator":"gt"}`,
		`{"id":"y","metric":"cpu_usage","operator":"gt","bogus":true}`,
		`not json`,
	} {
		rec = post(t, h, "/api/alerts", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
	assert.Len(t, am.List(), 1)
}

func TestAddAlert_NoManager(t *testing.T) {
	h := New(populated(), nil, logger.Discard()).Handler()
	rec := post(t, h, "/api/alerts", `{"id":"hot","metric":"cpu_usage","operator":"gt","threshold":30}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrends(t *testing.T) {
	src := populated()
	h := New(src, nil, logger.Discard()).Handler()

	rec := get(t, h, "/api/trends")
	require.Equal(t, http.StatusOK, rec.Code)
	var report anomaly.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, anomaly.Increasing, report.CPU.Trend)
	assert.Equal(t, 2, report.CPU.Samples)
	require.NotNil(t, report.CPU.Prediction)
	assert.InDelta(t, 60, *report.CPU.Prediction, 1e-9)

	rec = get(t, h, "/api/trends?since=1m")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, anomaly.Unknown, report.CPU.Trend)
	assert.Equal(t, time.Minute, src.since)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/trends?since=later").Code)

	empty := get(t, New(&fakeSource{}, nil, logger.Discard()).Handler(), "/api/trends")
	require.Equal(t, http.StatusOK, empty.Code)
	assert.Contains(t, empty.Body.String(), `"anomalies":[]`)
}

func TestHealth(t *testing.T) {
	cases := []struct {
		stats supervisor.Stats
		code  int
		state string
	}{
		{supervisor.Stats{Running: true, Ticks: 3}, http.StatusOK, "ok"},
		{supervisor.Stats{Running: true}, http.StatusOK, "starting"},
		{supervisor.Stats{}, http.StatusServiceUnavailable, "stopped"},
	}
	for _, tc := range cases {
		h := New(&fakeSource{stats: tc.stats}, nil, logger.Discard()).Handler()
		rec := get(t, h, "/api/health")
		assert.Equal(t, tc.code, rec.Code)

		var body healthBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.state, body.Status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(populated(), nil, logger.Discard()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshot", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, New(populated(), nil, logger.Discard()).Handler(), logger.Discard()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/snapshot")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
