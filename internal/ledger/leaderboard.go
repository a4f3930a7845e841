package ledger

import (
	"sort"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// LeaderboardSize задаёт количество мест в рейтинге.
const LeaderboardSize = 10

// RankLeaderboard сортирует клиентов по начисленным баллам, числу покупок и посещений
// и возвращает первые n мест. Входной срез не изменяется.
func RankLeaderboard(accounts []model.Account, n int) []model.LeaderboardEntry {
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := a.TotalPointsEarned.Cmp(b.TotalPointsEarned); c != 0 {
			return c > 0
		}
		if a.TotalTransactions != b.TotalTransactions {
			return a.TotalTransactions > b.TotalTransactions
		}
		if a.TotalVisits != b.TotalVisits {
			return a.TotalVisits > b.TotalVisits
		}
		return a.ID < b.ID
	})

	if n > len(sorted) {
		n = len(sorted)
	}

	entries := make([]model.LeaderboardEntry, 0, n)
	for i := 0; i < n; i++ {
		a := sorted[i]
		entries = append(entries, model.LeaderboardEntry{
			Rank:              i + 1,
			AccountID:         a.ID,
			FullName:          a.FullName,
			Tier:              a.Tier,
			TotalPointsEarned: a.TotalPointsEarned,
			TotalTransactions: a.TotalTransactions,
			TotalVisits:       a.TotalVisits,
		})
	}

	return entries
}
