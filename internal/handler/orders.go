package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/service"
)

type createOrderRequest struct {
	AccountID string           `json:"accountId"`
	LineItems []model.LineItem `json:"lineItems" validate:"required,min=1"`
}

// CreateOrder создаёт заказ. Заказ без accountId оформляется на посетителя без карты.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), req.AccountID, req.LineItems)
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder возвращает заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type completeOrderRequest struct {
	Method      string `json:"method" validate:"required"`
	ReferenceNo string `json:"referenceNo"`
}

// CompleteOrder оплачивает заказ.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req completeOrderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.CompleteOrder(r.Context(), service.CompleteOrderRequest{
		OrderID:        chi.URLParam(r, "id"),
		Method:         model.PaymentMethod(req.Method),
		ReferenceNo:    req.ReferenceNo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, "complete order", err)
		return
	}
	writeJSON(w, settlementStatus(res), res)
}

// CancelOrder отменяет заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
