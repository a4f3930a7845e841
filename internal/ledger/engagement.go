package ledger

import (
	"sort"
	"time"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// EngagementStats содержит производные показатели активности клиента.
type EngagementStats struct {
	TotalTransactions int
	TotalVisits       int
	LastVisitDate     *time.Time
	Status            model.AccountStatus
	FavoriteCategory  string
}

// Engagement пересчитывает показатели по полному журналу клиента.
// Учитываются только завершённые покупки; результат не зависит от порядка записей.
func Engagement(records []model.TransactionRecord, now time.Time) EngagementStats {
	loc := now.Location()
	today := dayOf(now, loc)

	days := make(map[time.Time]struct{})
	qty := make(map[string]int)
	stats := EngagementStats{Status: model.AccountStatusInactive}

	for _, rec := range records {
		if rec.Status != model.TransactionCompleted || !rec.IsPurchase() {
			continue
		}
		stats.TotalTransactions++

		day := dayOf(rec.CreatedAt, loc)
		days[day] = struct{}{}
		if stats.LastVisitDate == nil || day.After(*stats.LastVisitDate) {
			d := day
			stats.LastVisitDate = &d
		}

		for _, item := range rec.LineItems {
			if item.Category == "" || item.Qty <= 0 {
				continue
			}
			qty[item.Category] += item.Qty
		}
	}

	stats.TotalVisits = len(days)
	if _, ok := days[today]; ok {
		stats.Status = model.AccountStatusActive
	}
	stats.FavoriteCategory = favoriteCategory(qty)

	return stats
}

// ApplyEngagement переносит показатели в счёт.
func ApplyEngagement(acc *model.Account, s EngagementStats) {
	acc.TotalTransactions = s.TotalTransactions
	acc.TotalVisits = s.TotalVisits
	acc.LastVisitDate = s.LastVisitDate
	acc.Status = s.Status
	acc.FavoriteCategory = s.FavoriteCategory
}

func favoriteCategory(qty map[string]int) string {
	categories := make([]string, 0, len(qty))
	for c := range qty {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	best := ""
	bestQty := 0
	for _, c := range categories {
		if qty[c] > bestQty {
			best = c
			bestQty = qty[c]
		}
	}
	return best
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
