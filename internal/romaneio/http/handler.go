package romaneiohttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/platform/httpx"
	"github.com/odyssey-erp/romaneios/internal/reconcile"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
	"github.com/odyssey-erp/romaneios/internal/shared"
	"github.com/odyssey-erp/romaneios/jobs"
)

// ActorHeader carries the id of the user acting on a record.
const ActorHeader = "X-Actor-ID"

var errorMappings = []httpx.Mapping{
	{Target: romaneio.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: romaneio.ErrDuplicatePurchaseOrder, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: romaneio.ErrRemoteDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: romaneio.ErrNotDeletable, Status: http.StatusConflict, Title: "Not Deletable"},
	{Target: locks.ErrBusy, Status: http.StatusConflict, Title: "Busy"},
	{Target: romaneio.ErrInvalidStatus, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: romaneio.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// Handler exposes romaneio administration and verification over JSON.
type Handler struct {
	logger       *slog.Logger
	service      *romaneio.Service
	orchestrator *reconcile.Orchestrator
	jobs         *jobs.Client
}

// NewHandler constructs handler. jobsClient may be nil, in which case
// verification always runs inline.
func NewHandler(logger *slog.Logger, service *romaneio.Service, orchestrator *reconcile.Orchestrator, jobsClient *jobs.Client) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, orchestrator: orchestrator, jobs: jobsClient}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/romaneios", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/stats", h.stats)
		r.Post("/verify", h.verifyAll)
		r.Get("/{id}", h.show)
		r.Delete("/{id}", h.delete)
		r.Get("/{id}/logs", h.logs)
		r.Post("/{id}/status", h.updateStatus)
		r.Post("/{id}/verify", h.verifyOne)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	created, items, err := h.service.Create(r.Context(), romaneio.CreateInput{
		PurchaseOrder:   req.PurchaseOrder,
		InvoiceNumber:   req.InvoiceNumber,
		AccessKey:       req.AccessKey,
		AfterReceipt:    req.AfterReceipt,
		Scheduled:       req.Scheduled,
		InsertAsPartial: req.InsertAsPartial,
		Notes:           req.Notes,
		CreatedBy:       actorID(r),
	})
	if err != nil {
		h.fail(w, r, "create romaneio", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRomaneio(created, items))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := romaneio.ListFilter{
		PurchaseOrder: strings.TrimSpace(q.Get("purchase_order")),
		InvoiceNumber: strings.TrimSpace(q.Get("invoice_number")),
		Page:          parseInt(q.Get("page")),
		PerPage:       parseInt(q.Get("per_page")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := romaneio.ParseStatus(raw)
		if err != nil {
			h.fail(w, r, "list romaneios", err)
			return
		}
		filter.Status = status
	}
	res, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list romaneios", err)
		return
	}
	pages := shared.NewPagination(res.Page, res.PerPage, res.Total)
	out := listResponse{
		Data:       make([]romaneioResponse, 0, len(res.Romaneios)),
		Total:      pages.Total,
		Page:       pages.Page,
		PerPage:    pages.PerPage,
		TotalPages: pages.TotalPages,
	}
	for _, item := range res.Romaneios {
		out.Data = append(out.Data, toRomaneio(item, nil))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "romaneio stats", err)
		return
	}
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	httpx.JSON(w, http.StatusOK, statsResponse{Total: stats.Total, ByStatus: byStatus, MaxAttemptsReached: stats.MaxAttemptsReached})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get romaneio", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRomaneio(record, items))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, r, "delete romaneio", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Logs(r.Context(), id)
	if err != nil {
		h.fail(w, r, "romaneio logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLogs(logs))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	updated, err := h.service.UpdateStatus(r.Context(), romaneio.UpdateStatusInput{
		ID:      id,
		Status:  romaneio.Status(strings.TrimSpace(req.Status)),
		ActorID: actorID(r),
		Note:    req.Note,
	})
	if err != nil {
		h.fail(w, r, "update romaneio status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRomaneio(updated, nil))
}

func (h *Handler) verifyOne(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if h.jobs != nil && isTruthy(r.URL.Query().Get("async")) {
		if _, _, err := h.service.Get(r.Context(), id); err != nil {
			h.fail(w, r, "verify romaneio", err)
			return
		}
		info, err := h.jobs.EnqueueVerifyOne(r.Context(), jobs.VerifyOnePayload{RomaneioID: id, RequestedBy: actorID(r)})
		if err != nil {
			h.fail(w, r, "enqueue verification", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, queuedResponse{TaskID: info.ID, Queue: info.Queue})
		return
	}
	res, err := h.orchestrator.RunOne(r.Context(), id)
	if err != nil && res.PurchaseOrder == "" {
		h.fail(w, r, "verify romaneio", err)
		return
	}
	// Failures past loading the record are already in its log.
	httpx.JSON(w, http.StatusOK, toResult(res))
}

func (h *Handler) verifyAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orchestrator.RunAll(r.Context())
	if err != nil {
		h.fail(w, r, "verify all romaneios", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var remote *inventory.RemoteError
	if errors.As(err, &remote) {
		h.logger.Warn(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Inventory System Error", err.Error())
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.Target) {
			httpx.RespondError(w, err, errorMappings...)
			return
		}
	}
	h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid romaneio id")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(r.Header.Get(ActorHeader)), 10, 64)
	return id
}

func parseInt(raw string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(raw))
	return v
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
