package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

type topUpRequest struct {
	ReferenceNo string           `json:"referenceNo"`
	Amount      *decimal.Decimal `json:"amount"`
}

// CreateTopUp регистрирует заявку клиента на пополнение кошелька.
func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	tr, err := h.service.CreateTopUpRequest(r.Context(), chi.URLParam(r, "id"), req.ReferenceNo, req.Amount)
	if err != nil {
		h.fail(w, r, "create top-up", err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

// ListTopUps возвращает заявки; параметр status фильтрует по статусу.
func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	status := model.TopUpStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.TopUpPending, model.TopUpApproved, model.TopUpRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	reqs, err := h.service.ListTopUps(r.Context(), status)
	if err != nil {
		h.fail(w, r, "list top-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reqs))
}

// TopUpStats возвращает количество заявок по статусам.
func (h *Handler) TopUpStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.TopUpStats(r.Context())
	if err != nil {
		h.fail(w, r, "top-up stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type approveRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// ApproveTopUp одобряет заявку. Тело запроса необязательно: без суммы зачисляется запрошенная.
func (h *Handler) ApproveTopUp(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, err)
		return
	}

	tr, err := h.service.ApproveTopUp(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.fail(w, r, "approve top-up", err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// RejectTopUp отклоняет заявку.
func (h *Handler) RejectTopUp(w http.ResponseWriter, r *http.Request) {
	tr, err := h.service.RejectTopUp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "reject top-up", err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}
