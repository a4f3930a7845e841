package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/service"
)

type promotionRequest struct {
	Title           string          `json:"title" validate:"required"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	ValidFrom       time.Time       `json:"validFrom" validate:"required"`
	ValidTo         time.Time       `json:"validTo" validate:"required"`
	Scope           string          `json:"scope" validate:"omitempty,oneof=global personalized"`
	ApplicableTiers []model.Tier    `json:"applicableTiers"`
	TargetAccountID string          `json:"targetAccountId"`
	Category        string          `json:"category"`
	SingleUse       bool            `json:"singleUse"`
}

// CreatePromotion создаёт акцию.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	p, err := h.service.CreatePromotion(r.Context(), model.Promotion{
		Title:           req.Title,
		Description:     req.Description,
		Price:           req.Price,
		ValidFrom:       req.ValidFrom,
		ValidTo:         req.ValidTo,
		Scope:           model.PromotionScope(req.Scope),
		ApplicableTiers: req.ApplicableTiers,
		TargetAccountID: req.TargetAccountID,
		Category:        req.Category,
		SingleUse:       req.SingleUse,
	})
	if err != nil {
		h.fail(w, r, "create promotion", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPromotions возвращает все акции.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListPromotions(r.Context())
	if err != nil {
		h.fail(w, r, "list promotions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(promos))
}

// EligiblePromotions возвращает акции, доступные клиенту.
// С параметром recommended=true остаются только акции из любимой категории клиента.
func (h *Handler) EligiblePromotions(w http.ResponseWriter, r *http.Request) {
	list := h.service.EligiblePromotions
	if v := r.URL.Query().Get("recommended"); v != "" {
		recommended, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recommended must be a boolean")
			return
		}
		if recommended {
			list = h.service.RecommendedPromotions
		}
	}

	promos, err := list(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "eligible promotions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(promos))
}

type redeemRequest struct {
	AccountID   string `json:"accountId" validate:"required"`
	Method      string `json:"method" validate:"required"`
	ReferenceNo string `json:"referenceNo"`
}

// RedeemPromotion оплачивает акцию со счёта клиента.
func (h *Handler) RedeemPromotion(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.RedeemPromotion(r.Context(), service.RedeemRequest{
		PromotionID:    chi.URLParam(r, "id"),
		AccountID:      req.AccountID,
		Method:         model.PaymentMethod(req.Method),
		ReferenceNo:    req.ReferenceNo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, "redeem promotion", err)
		return
	}
	writeJSON(w, settlementStatus(res), res)
}

type assignTopRequest struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	ValidFrom   time.Time       `json:"validFrom" validate:"required"`
	ValidTo     time.Time       `json:"validTo" validate:"required"`
}

// AssignTopCustomerPromotions создаёт персональные акции для клиентов из рейтинга.
func (h *Handler) AssignTopCustomerPromotions(w http.ResponseWriter, r *http.Request) {
	var req assignTopRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	created, err := h.service.AssignTopCustomerPromotions(r.Context(), service.PromotionTemplate{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
	})
	if err != nil {
		h.fail(w, r, "assign top customer promotions", err)
		return
	}
	writeJSON(w, http.StatusCreated, nonNil(created))
}
