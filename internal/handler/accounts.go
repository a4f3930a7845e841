package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/service"
)

type createAccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required"`
	Mobile   string `json:"mobile" validate:"omitempty,mobile"`
}

// CreateAccount регистрирует клиента в программе лояльности.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	acc, err := h.service.CreateAccount(r.Context(), req.Email, req.FullName, req.Mobile)
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// GetAccount возвращает счёт клиента.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListAccountTransactions возвращает журнал операций клиента.
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.ListAccountTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "list account transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

type chargeRequest struct {
	Amount      decimal.Decimal  `json:"amount"`
	Method      string           `json:"method" validate:"required"`
	ReferenceNo string           `json:"referenceNo"`
	LineItems   []model.LineItem `json:"lineItems"`
}

// Charge выполняет прямое списание со счёта клиента.
// Ключ идемпотентности передаётся в заголовке Idempotency-Key.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.SettleCharge(r.Context(), service.SettleRequest{
		AccountID:      chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Method:         model.PaymentMethod(req.Method),
		ReferenceNo:    req.ReferenceNo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		LineItems:      req.LineItems,
	})
	if err != nil {
		h.fail(w, r, "settle charge", err)
		return
	}
	writeJSON(w, settlementStatus(res), res)
}

func settlementStatus(res *service.SettlementResult) int {
	if res.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

type adjustRequest struct {
	Delta       decimal.Decimal `json:"delta"`
	Method      string          `json:"method"`
	ReferenceNo string          `json:"referenceNo"`
}

func (h *Handler) adjustment(r *http.Request) (service.AdjustmentRequest, error) {
	var req adjustRequest
	if err := decode(r, &req); err != nil {
		return service.AdjustmentRequest{}, err
	}
	return service.AdjustmentRequest{
		AccountID:      chi.URLParam(r, "id"),
		Delta:          req.Delta,
		Method:         model.PaymentMethod(req.Method),
		ReferenceNo:    req.ReferenceNo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}, nil
}

// AdjustPoints вручную начисляет или списывает баллы.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	req, err := h.adjustment(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	acc, err := h.service.AdjustPoints(r.Context(), req)
	if err != nil {
		h.fail(w, r, "adjust points", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// AdjustWallet вручную пополняет или списывает кошелёк.
func (h *Handler) AdjustWallet(w http.ResponseWriter, r *http.Request) {
	req, err := h.adjustment(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	acc, err := h.service.AdjustWallet(r.Context(), req)
	if err != nil {
		h.fail(w, r, "adjust wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
