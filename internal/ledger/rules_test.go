package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

func TestComputeTier(t *testing.T) {
	tests := []struct {
		total string
		want  model.Tier
	}{
		{"0", model.TierBronze},
		{"99.99", model.TierBronze},
		{"100", model.TierSilver},
		{"299.99", model.TierSilver},
		{"300", model.TierGold},
		{"1000", model.TierGold},
	}

	for _, tt := range tests {
		if got := ComputeTier(dec(tt.total)); got != tt.want {
			t.Fatalf("ComputeTier(%s) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestApplyTier_NeverDowngrades(t *testing.T) {
	if got := ApplyTier(model.TierGold, dec("5")); got != model.TierGold {
		t.Fatalf("ApplyTier(Gold, 5) = %s, want Gold", got)
	}
	if got := ApplyTier(model.TierBronze, dec("150")); got != model.TierSilver {
		t.Fatalf("ApplyTier(Bronze, 150) = %s, want Silver", got)
	}
	if got := ApplyTier("", dec("0")); got != model.TierBronze {
		t.Fatalf("ApplyTier(empty, 0) = %s, want Bronze", got)
	}
}

func purchase(at time.Time, status model.TransactionStatus, items ...model.LineItem) model.TransactionRecord {
	return model.TransactionRecord{
		Type:      model.TransactionOrder,
		Status:    status,
		LineItems: items,
		CreatedAt: at,
	}
}

func TestEngagement(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	records := []model.TransactionRecord{
		purchase(yesterday.Add(-2*time.Hour), model.TransactionCompleted,
			model.LineItem{Name: "Latte", Category: "Coffee", Qty: 2}),
		purchase(yesterday, model.TransactionCompleted,
			model.LineItem{Name: "Croissant", Category: "Pastry", Qty: 1}),
		purchase(now.Add(-time.Hour), model.TransactionCompleted,
			model.LineItem{Name: "Muffin", Category: "Pastry", Qty: 1}),
		purchase(now, model.TransactionCanceled,
			model.LineItem{Name: "Cake", Category: "Pastry", Qty: 10}),
		{Type: model.TransactionTopUp, Status: model.TransactionCompleted, CreatedAt: now},
	}

	stats := Engagement(records, now)

	assert.Equal(t, 3, stats.TotalTransactions)
	assert.Equal(t, 2, stats.TotalVisits)
	assert.Equal(t, model.AccountStatusActive, stats.Status)
	assert.Equal(t, "Coffee", stats.FavoriteCategory, "tie between Coffee and Pastry resolves lexically")
	require.NotNil(t, stats.LastVisitDate)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), *stats.LastVisitDate)

	again := Engagement(records, now)
	assert.Equal(t, stats, again, "rescan must be idempotent")
}

func TestEngagement_InactiveWithoutVisitToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	records := []model.TransactionRecord{
		purchase(now.AddDate(0, 0, -3), model.TransactionCompleted),
	}

	stats := Engagement(records, now)
	if stats.Status != model.AccountStatusInactive {
		t.Fatalf("status = %s, want Inactive", stats.Status)
	}
	if stats.TotalVisits != 1 {
		t.Fatalf("visits = %d, want 1", stats.TotalVisits)
	}
}

func TestIsEligible(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	acc := model.NewAccount("ana@example.com", "Ana", "", now)
	acc.Tier = model.TierSilver

	window := func(p model.Promotion) model.Promotion {
		p.ValidFrom = now.Add(-time.Hour)
		p.ValidTo = now.Add(time.Hour)
		return p
	}

	tests := []struct {
		name  string
		promo model.Promotion
		want  bool
	}{
		{"global any tier", window(model.Promotion{Scope: model.ScopeGlobal}), true},
		{"global matching tier", window(model.Promotion{Scope: model.ScopeGlobal, ApplicableTiers: []model.Tier{model.TierSilver, model.TierGold}}), true},
		{"global other tier", window(model.Promotion{Scope: model.ScopeGlobal, ApplicableTiers: []model.Tier{model.TierGold}}), false},
		{"personalized for account", window(model.Promotion{Scope: model.ScopePersonalized, TargetAccountID: "ana@example.com"}), true},
		{"personalized for another", window(model.Promotion{Scope: model.ScopePersonalized, TargetAccountID: "bob@example.com"}), false},
		{"expired", model.Promotion{Scope: model.ScopeGlobal, ValidFrom: now.Add(-2 * time.Hour), ValidTo: now.Add(-time.Hour)}, false},
		{"not started", model.Promotion{Scope: model.ScopeGlobal, ValidFrom: now.Add(time.Hour), ValidTo: now.Add(2 * time.Hour)}, false},
		{"window boundary", model.Promotion{Scope: model.ScopeGlobal, ValidFrom: now, ValidTo: now}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(tt.promo, acc, now))
		})
	}
}

func TestFilterEligible_SkipsClaimedSingleUse(t *testing.T) {
	now := time.Now()
	acc := model.NewAccount("ana@example.com", "Ana", "", now)
	promos := []model.Promotion{
		{ID: "p1", Scope: model.ScopeGlobal, SingleUse: true, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour)},
		{ID: "p2", Scope: model.ScopeGlobal, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour)},
	}

	res := FilterEligible(promos, acc, map[string]bool{"p1": true, "p2": true}, now)
	if len(res) != 1 || res[0].ID != "p2" {
		t.Fatalf("unexpected eligible promotions: %+v", res)
	}
}

func TestRecommend(t *testing.T) {
	acc := model.NewAccount("ana@example.com", "Ana", "", time.Now())
	promos := []model.Promotion{
		{ID: "p1", Category: "Coffee"},
		{ID: "p2", Category: "Pastry"},
		{ID: "p3", Category: "coffee"},
		{ID: "p4"},
	}

	if res := Recommend(promos, acc); len(res) != 0 {
		t.Fatalf("no favorite category must give no recommendations, got %+v", res)
	}

	acc.FavoriteCategory = "Coffee"
	res := Recommend(promos, acc)
	require.Len(t, res, 2)
	assert.Equal(t, "p1", res[0].ID)
	assert.Equal(t, "p3", res[1].ID)
}

func TestValidatePromotion(t *testing.T) {
	now := time.Now()
	valid := model.Promotion{
		Title:     "Free pastry",
		Price:     dec("50"),
		ValidFrom: now,
		ValidTo:   now.Add(24 * time.Hour),
		Scope:     model.ScopeGlobal,
	}
	require.NoError(t, ValidatePromotion(valid))

	reversed := valid
	reversed.ValidTo = now.Add(-time.Hour)
	require.ErrorIs(t, ValidatePromotion(reversed), ErrInvalidPromotion)

	personal := valid
	personal.Scope = model.ScopePersonalized
	require.ErrorIs(t, ValidatePromotion(personal), ErrInvalidPromotion)

	badTier := valid
	badTier.ApplicableTiers = []model.Tier{"Platinum"}
	require.ErrorIs(t, ValidatePromotion(badTier), ErrInvalidPromotion)
}

func TestRankLeaderboard(t *testing.T) {
	var accounts []model.Account
	for i := 0; i < 12; i++ {
		a := model.NewAccount(string(rune('a'+i))+"@example.com", "", "", time.Now())
		a.TotalPointsEarned = decimal.NewFromInt(int64(i))
		accounts = append(accounts, a)
	}
	tieA := model.NewAccount("tie-a@example.com", "", "", time.Now())
	tieA.TotalPointsEarned = dec("50")
	tieA.TotalTransactions = 3
	tieA.TotalVisits = 1
	tieB := model.NewAccount("tie-b@example.com", "", "", time.Now())
	tieB.TotalPointsEarned = dec("50")
	tieB.TotalTransactions = 3
	tieB.TotalVisits = 2
	accounts = append(accounts, tieA, tieB)

	entries := RankLeaderboard(accounts, LeaderboardSize)

	require.Len(t, entries, LeaderboardSize)
	assert.Equal(t, "tie-b@example.com", entries[0].AccountID)
	assert.Equal(t, "tie-a@example.com", entries[1].AccountID)
	assert.Equal(t, "l@example.com", entries[2].AccountID)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, "a@example.com", accounts[0].ID, "input must not be reordered")
}

func TestAdjust_NeverNegative(t *testing.T) {
	acc := newAccount("10", "5")

	if err := AdjustPoints(&acc, dec("-20")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := AdjustWallet(&acc, dec("-6")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := AdjustPoints(&acc, dec("-10")); err != nil {
		t.Fatalf("AdjustPoints error: %v", err)
	}
	if err := AdjustWallet(&acc, dec("25")); err != nil {
		t.Fatalf("AdjustWallet error: %v", err)
	}

	if !acc.PointsBalance.IsZero() || !acc.WalletBalance.Equal(dec("30")) {
		t.Fatalf("unexpected balances: points=%s wallet=%s", acc.PointsBalance, acc.WalletBalance)
	}
	if !acc.TotalPointsEarned.IsZero() {
		t.Fatalf("manual adjustment must not change totalPointsEarned")
	}
}
