package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	romaneiohttp "github.com/odyssey-erp/romaneios/internal/romaneio/http"
)

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	cfg := &Config{DBDriver: DriverMemory, InventoryOffline: true, VerifyInterval: time.Minute, VerifyMaxAttempts: 3, VerifyConcurrency: 1}
	c, err := Build(context.Background(), cfg, NewLoggerTo(cfg, io.Discard))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	c := newTestContainer(t)
	router := NewRouter(RouterParams{
		Logger:          c.Logger,
		Config:          c.Config,
		RomaneioHandler: romaneiohttp.NewHandler(c.Logger, c.Service, c.Orchestrator, nil),
		Metrics:         c.Metrics,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/romaneios/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/romaneios/verify", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.True(t, strings.Contains(body, `romaneio_http_requests_total{code="200",route="/romaneios/stats"} 1`), body)
	require.Contains(t, body, `romaneio_jobs_total{job="romaneio_verify_all",status="success"} 1`)
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{DBDriver: "oracle", InventoryOffline: true}
	_, err := Build(context.Background(), cfg, NewLoggerTo(cfg, io.Discard))
	require.Error(t, err)
}

func TestNewGatewayOnline(t *testing.T) {
	gw, err := NewGateway(&Config{InventoryBaseURL: "http://inventory.local/api"})
	require.NoError(t, err)
	require.NotNil(t, gw)

	_, err = NewGateway(&Config{})
	require.Error(t, err)
}
