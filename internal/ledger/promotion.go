package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// ValidatePromotion проверяет корректность акции перед сохранением.
func ValidatePromotion(p model.Promotion) error {
	if p.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidPromotion)
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidPromotion)
	}
	if p.ValidTo.Before(p.ValidFrom) {
		return fmt.Errorf("%w: validTo is before validFrom", ErrInvalidPromotion)
	}

	switch p.Scope {
	case model.ScopeGlobal:
		for _, t := range p.ApplicableTiers {
			if !t.Valid() {
				return fmt.Errorf("%w: unknown tier %q", ErrInvalidPromotion, t)
			}
		}
	case model.ScopePersonalized:
		if p.TargetAccountID == "" {
			return fmt.Errorf("%w: personalized promotion needs a target account", ErrInvalidPromotion)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidPromotion, p.Scope)
	}

	return nil
}

// IsEligible сообщает, может ли клиент воспользоваться акцией в момент now.
func IsEligible(p model.Promotion, acc model.Account, now time.Time) bool {
	if now.Before(p.ValidFrom) || now.After(p.ValidTo) {
		return false
	}

	switch p.Scope {
	case model.ScopeGlobal:
		return len(p.ApplicableTiers) == 0 || slices.Contains(p.ApplicableTiers, acc.Tier)
	case model.ScopePersonalized:
		return p.TargetAccountID == acc.ID
	default:
		return false
	}
}

// FilterEligible возвращает акции, доступные клиенту; claimed содержит уже использованные одноразовые акции.
func FilterEligible(promos []model.Promotion, acc model.Account, claimed map[string]bool, now time.Time) []model.Promotion {
	res := make([]model.Promotion, 0, len(promos))
	for _, p := range promos {
		if p.SingleUse && claimed[p.ID] {
			continue
		}
		if IsEligible(p, acc, now) {
			res = append(res, p)
		}
	}
	return res
}

// Recommend отбирает из доступных акций те, что относятся к любимой категории клиента.
// Без любимой категории рекомендаций нет.
func Recommend(eligible []model.Promotion, acc model.Account) []model.Promotion {
	res := make([]model.Promotion, 0)
	if acc.FavoriteCategory == "" {
		return res
	}
	for _, p := range eligible {
		if strings.EqualFold(p.Category, acc.FavoriteCategory) {
			res = append(res, p)
		}
	}
	return res
}
