package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type HTTPHandler struct {
	svc    InventoryService
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(svc InventoryService, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// Router mounts the API. metrics may be nil.
func (h *HTTPHandler) Router(metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	// Routes stay on the root router so a method mismatch answers 405.
	r.HandleFunc("/api/messages", h.Message).Methods(http.MethodPost)
	r.HandleFunc("/api/bulk-updates", h.BulkUpdate).Methods(http.MethodPost)
	r.HandleFunc("/api/inventory", h.Inventory).Methods(http.MethodGet)
	r.HandleFunc("/api/batches", h.Batches).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

func (h *HTTPHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	msg, err := req.toMessage()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out := h.svc.HandleMessage(r.Context(), msg)
	status := http.StatusOK
	if out.Kind == domain.OutcomeSystemError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, out)
}

func (h *HTTPHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBulkTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, BulkResponse{Results: h.svc.BulkUpdate(r.Context(), req.Items)})
}

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	shopID := r.URL.Query().Get("shop_id")
	if shopID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errMissingShopID.Error()})
		return
	}
	records, err := h.svc.Inventory(r.Context(), shopID)
	if err != nil {
		h.logger.Error("list inventory failed", "shop_id", shopID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	writeJSON(w, http.StatusOK, InventoryResponse{Records: records})
}

func (h *HTTPHandler) Batches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shopID, product := q.Get("shop_id"), q.Get("product")
	switch {
	case shopID == "":
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errMissingShopID.Error()})
		return
	case product == "":
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errMissingProduct.Error()})
		return
	}
	lots, err := h.svc.Batches(r.Context(), shopID, product)
	if err != nil {
		h.logger.Error("list lots failed", "shop_id", shopID, "product", product, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if lots == nil {
		lots = []domain.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, BatchesResponse{Lots: lots})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
