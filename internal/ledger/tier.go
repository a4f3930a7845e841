package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

var (
	silverThreshold = decimal.NewFromInt(100)
	goldThreshold   = decimal.NewFromInt(300)
)

// ComputeTier возвращает уровень, соответствующий сумме начисленных баллов.
func ComputeTier(totalPointsEarned decimal.Decimal) model.Tier {
	switch {
	case totalPointsEarned.GreaterThanOrEqual(goldThreshold):
		return model.TierGold
	case totalPointsEarned.GreaterThanOrEqual(silverThreshold):
		return model.TierSilver
	default:
		return model.TierBronze
	}
}

// ApplyTier возвращает старший из текущего и вычисленного уровней. Уровень не понижается.
func ApplyTier(current model.Tier, totalPointsEarned decimal.Decimal) model.Tier {
	computed := ComputeTier(totalPointsEarned)
	if computed.Rank() > current.Rank() {
		return computed
	}
	if !current.Valid() {
		return computed
	}
	return current
}
