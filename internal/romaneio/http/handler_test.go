package romaneiohttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	"github.com/odyssey-erp/romaneios/internal/platform/httpx"
	"github.com/odyssey-erp/romaneios/internal/reconcile"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
	"github.com/odyssey-erp/romaneios/jobs"
)

const accessKey = "35240112345678000199550010000012341000012345"

type failingGateway struct {
	inventory.Offline
	createErr error
}

func (g failingGateway) Create(ctx context.Context, input inventory.CreateInput) (inventory.CreateResult, error) {
	if g.createErr != nil {
		return inventory.CreateResult{Message: "Romaneio já existe"}, g.createErr
	}
	return g.Offline.Create(ctx, input)
}

func newTestRouter(t *testing.T, gw inventory.Gateway, jobsClient *jobs.Client) (http.Handler, romaneio.Store) {
	t.Helper()
	store := romaneio.NewMemoryStore()
	svc := romaneio.NewService(store, gw, nil, romaneio.ServiceConfig{MaxAttempts: 3, FetchOnCreate: true, OfflineGateway: true}, nil)
	engine := reconcile.NewEngine(store, gw, nil, 3, nil)
	handler := NewHandler(nil, svc, reconcile.NewOrchestrator(store, engine, 1, nil, nil), jobsClient)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(ActorHeader, "7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func createBody(po string) string {
	return `{"purchase_order":"` + po + `","invoice_number":"000123","access_key":"` + accessKey + `"}`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateAndShow(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)

	rr := do(t, h, http.MethodPost, "/romaneios", createBody("000285847"))
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[romaneioResponse](t, rr)
	require.Equal(t, "PENDING", created.Status)
	require.Equal(t, int64(7), created.CreatedBy)
	require.Len(t, created.Items, 2)

	rr = do(t, h, http.MethodGet, "/romaneios/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	shown := decode[romaneioResponse](t, rr)
	require.Equal(t, "000285847", shown.PurchaseOrder)

	rr = do(t, h, http.MethodPost, "/romaneios", createBody("000285847"))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateValidationAndRemoteErrors(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)
	rr := do(t, h, http.MethodPost, "/romaneios", `{"purchase_order":"1","invoice_number":"2","access_key":"123"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decode[httpx.ProblemDetail](t, rr)
	require.Contains(t, problem.Detail, "access key")

	rr = do(t, h, http.MethodPost, "/romaneios", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	dup, _ := newTestRouter(t, failingGateway{createErr: inventory.ErrAlreadyExists}, nil)
	rr = do(t, dup, http.MethodPost, "/romaneios", createBody("PO-1"))
	require.Equal(t, http.StatusConflict, rr.Code)

	down, _ := newTestRouter(t, failingGateway{createErr: &inventory.RemoteError{Op: "create", StatusCode: 503, Err: errors.New("unavailable")}}, nil)
	rr = do(t, down, http.MethodPost, "/romaneios", createBody("PO-1"))
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestListFiltersAndStats(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)
	for _, po := range []string{"PO-1", "PO-2", "XX-3"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/romaneios", createBody(po)).Code)
	}

	rr := do(t, h, http.MethodGet, "/romaneios?purchase_order=PO&per_page=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[listResponse](t, rr)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Data, 1)
	require.Equal(t, "PO-2", page.Data[0].PurchaseOrder)

	rr = do(t, h, http.MethodGet, "/romaneios?status=Z", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/romaneios/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[statsResponse](t, rr)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.ByStatus["PENDING"])
}

func TestVerifyStatusLogsAndDelete(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)
	created := decode[romaneioResponse](t, do(t, h, http.MethodPost, "/romaneios", createBody("PO-1")))
	path := "/romaneios/" + itoa(created.ID)

	rr := do(t, h, http.MethodPost, path+"/verify", "")
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[resultResponse](t, rr)
	require.Equal(t, string(reconcile.OutcomeMatched), res.Outcome)
	require.Equal(t, "OPEN", res.Status)

	rr = do(t, h, http.MethodDelete, path, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, path+"/status", `{"status":"F","note":"closed by hand"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "FINALIZED", decode[romaneioResponse](t, rr).Status)

	rr = do(t, h, http.MethodGet, path+"/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	logs := decode[[]logResponse](t, rr)
	require.Len(t, logs, 3)
	require.Equal(t, "manual_status_update", logs[0].Action)
	require.Equal(t, "closed by hand", logs[0].Details)
	require.Equal(t, int64(7), *logs[0].ActorID)

	rr = do(t, h, http.MethodPost, path+"/status", `{"status":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	fresh := decode[romaneioResponse](t, do(t, h, http.MethodPost, "/romaneios", createBody("PO-2")))
	rr = do(t, h, http.MethodDelete, "/romaneios/"+itoa(fresh.ID), "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/romaneios/"+itoa(fresh.ID), "").Code)
}

func TestVerifyHandlesMissingAndBadIDs(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/romaneios/42/verify", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/romaneios/abc", "").Code)
}

func TestVerifyAllReturnsSummary(t *testing.T) {
	h, _ := newTestRouter(t, inventory.NewOffline(), nil)
	for _, po := range []string{"PO-1", "PO-2"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/romaneios", createBody(po)).Code)
	}
	rr := do(t, h, http.MethodPost, "/romaneios/verify", "")
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[reconcile.Summary](t, rr)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.Matched)
}

func TestVerifyAsyncEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	h, store := newTestRouter(t, inventory.NewOffline(), client)
	created := decode[romaneioResponse](t, do(t, h, http.MethodPost, "/romaneios", createBody("PO-1")))

	rr := do(t, h, http.MethodPost, "/romaneios/"+itoa(created.ID)+"/verify?async=1", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	queued := decode[queuedResponse](t, rr)
	require.NotEmpty(t, queued.TaskID)
	require.Equal(t, jobs.QueueDefault, queued.Queue)

	record, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, romaneio.StatusPending, record.Status)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
