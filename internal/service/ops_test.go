package service

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/logger"
	"alertbridge/internal/metrics"
	"alertbridge/internal/state"
)

func TestOpsRouterHealthzAndMetrics(t *testing.T) {
	log := logger.NewWithWriter("error", io.Discard)
	clk := clock.NewFake(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	store, err := state.NewJSONStore(filepath.Join(t.TempDir(), "state.json"), clk, log)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Upsert([]alert.Notification{
		{EventID: "event:109:202608240500:20:L1090000:호우:경보:발표:정상", RegionCode: "L1090000", Message: "m"},
	})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics.New(registry).RecordCycle("success", 1.5)
	router := NewOpsRouter(registry, store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string `json:"status"`
		Tracked int    `json:"tracked"`
		Pending int    `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Tracked)
	assert.Equal(t, 1, body.Pending)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alertbridge_cycles_total")
}
