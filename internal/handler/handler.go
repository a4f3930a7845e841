// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/feed"
	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/middleware"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
	"github.com/mmeshcher/loyalty-ledger/internal/service"
	"github.com/mmeshcher/loyalty-ledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateAccount(ctx context.Context, email, fullName, mobile string) (*model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccountTransactions(ctx context.Context, accountID string) ([]model.TransactionRecord, error)
	ListTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error)
	AdjustPoints(ctx context.Context, req service.AdjustmentRequest) (*model.Account, error)
	AdjustWallet(ctx context.Context, req service.AdjustmentRequest) (*model.Account, error)

	SettleCharge(ctx context.Context, req service.SettleRequest) (*service.SettlementResult, error)

	CreateOrder(ctx context.Context, accountID string, items []model.LineItem) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	CompleteOrder(ctx context.Context, req service.CompleteOrderRequest) (*service.SettlementResult, error)
	CancelOrder(ctx context.Context, orderID string) (*model.Order, error)

	CreatePromotion(ctx context.Context, p model.Promotion) (*model.Promotion, error)
	ListPromotions(ctx context.Context) ([]model.Promotion, error)
	EligiblePromotions(ctx context.Context, accountID string) ([]model.Promotion, error)
	RecommendedPromotions(ctx context.Context, accountID string) ([]model.Promotion, error)
	RedeemPromotion(ctx context.Context, req service.RedeemRequest) (*service.SettlementResult, error)
	AssignTopCustomerPromotions(ctx context.Context, tpl service.PromotionTemplate) ([]model.Promotion, error)

	CreateTopUpRequest(ctx context.Context, accountID, referenceNo string, requestedAmount *decimal.Decimal) (*model.TopUpRequest, error)
	ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error)
	TopUpStats(ctx context.Context) (*model.TopUpStats, error)
	ApproveTopUp(ctx context.Context, requestID string, amount *decimal.Decimal) (*model.TopUpRequest, error)
	RejectTopUp(ctx context.Context, requestID string) (*model.TopUpRequest, error)

	BuildLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)
	GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service      Service
	logger       *zap.Logger
	auth         *middleware.AdminAuth
	hub          *feed.Hub
	loginLimiter *middleware.RateLimiter
}

// NewHandler создаёт обработчик. hub может быть nil, тогда лента изменений недоступна.
// Если loginLimiter равен nil, вход ограничивается пятью попытками в минуту.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AdminAuth, hub *feed.Hub, loginLimiter *middleware.RateLimiter) *Handler {
	if loginLimiter == nil {
		loginLimiter = middleware.NewRateLimiter(5, time.Minute)
	}
	return &Handler{
		service:      s,
		logger:       logger,
		auth:         auth,
		hub:          hub,
		loginLimiter: loginLimiter,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validation.Struct(v)
}

// errorStatus сопоставляет доменную ошибку HTTP-статусу.
func errorStatus(err error) int {
	var insufficient *ledger.InsufficientFundsError
	switch {
	case repository.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &insufficient), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrReferenceRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnknownMethod),
		errors.Is(err, ledger.ErrInvalidPromotion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrAlreadyResolved),
		errors.Is(err, repository.ErrAlreadyUsed),
		errors.Is(err, repository.ErrAccountExists),
		errors.Is(err, repository.ErrDuplicateIdempotencyKey),
		errors.Is(err, repository.ErrOrderStatus):
		return http.StatusConflict
	case errors.Is(err, repository.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail отвечает клиенту ошибкой. Непредвиденные ошибки пишутся в журнал и не раскрываются.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, status, http.StatusText(status))
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, err.Error())
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}

type loginRequest struct {
	PIN string `json:"pin" validate:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login проверяет PIN администратора и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	if err := h.auth.CheckPIN(req.PIN); err != nil {
		if errors.Is(err, middleware.ErrAdminDisabled) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	token, err := h.auth.SetSessionCookie(w)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	h.logger.Info("admin logged in", zap.String("remote", middleware.RealIP(r)))
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// GetLeaderboard возвращает последний построенный рейтинг клиентов.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.GetLeaderboard(r.Context())
	if err != nil {
		h.fail(w, r, "get leaderboard", err)
		return
	}
	if board == nil {
		board = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, board)
}

// RebuildLeaderboard строит рейтинг по запросу администратора.
func (h *Handler) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.BuildLeaderboard(r.Context())
	if err != nil {
		h.fail(w, r, "rebuild leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// ListTransactions возвращает последние записи общего журнала; limit задаётся параметром запроса.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
