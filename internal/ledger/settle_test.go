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

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAccount(points, wallet string) model.Account {
	acc := model.NewAccount("ana@example.com", "Ana", "09171234567", time.Now())
	acc.PointsBalance = dec(points)
	acc.WalletBalance = dec(wallet)
	return acc
}

func TestSettle_PointsThenWallet(t *testing.T) {
	acc := newAccount("50", "200")

	res, err := Settle(&acc, Charge{Amount: dec("120"), Method: model.PaymentWallet})
	require.NoError(t, err)

	assert.True(t, res.PointsUsed.Equal(dec("50")), "pointsUsed = %s", res.PointsUsed)
	assert.True(t, res.Remainder.Equal(dec("70")), "remainder = %s", res.Remainder)
	assert.True(t, res.PointsEarned.Equal(dec("1.4")), "pointsEarned = %s", res.PointsEarned)
	assert.Equal(t, model.PaymentMethod("Points+Wallet"), res.Method)

	assert.True(t, acc.WalletBalance.Equal(dec("130")), "wallet = %s", acc.WalletBalance)
	assert.True(t, acc.PointsBalance.Equal(dec("1.4")), "points = %s", acc.PointsBalance)
	assert.True(t, acc.TotalPointsEarned.Equal(dec("1.4")))
	assert.True(t, acc.TotalSpent.Equal(dec("120")))
}

func TestSettle_FullyCoveredByPoints(t *testing.T) {
	acc := newAccount("30", "15")

	res, err := Settle(&acc, Charge{Amount: dec("20"), Method: model.PaymentWallet})
	require.NoError(t, err)

	assert.Equal(t, model.PaymentPoints, res.Method)
	assert.True(t, res.PointsEarned.IsZero())
	assert.True(t, acc.PointsBalance.Equal(dec("10")))
	assert.True(t, acc.WalletBalance.Equal(dec("15")))
	assert.True(t, acc.TotalPointsEarned.IsZero())
}

func TestSettle_WalletInsufficientLeavesAccountUntouched(t *testing.T) {
	acc := newAccount("0", "10")
	before := acc

	_, err := Settle(&acc, Charge{Amount: dec("50"), Method: model.PaymentWallet})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected *InsufficientFundsError, got %T", err)
	}
	if !fundsErr.Required.Equal(dec("50")) || !fundsErr.Available.Equal(dec("10")) {
		t.Fatalf("unexpected error details: %+v", fundsErr)
	}

	if !acc.WalletBalance.Equal(before.WalletBalance) || !acc.TotalSpent.Equal(before.TotalSpent) {
		t.Fatalf("account mutated on failure: %+v", acc)
	}
}

func TestSettle_Methods(t *testing.T) {
	tests := []struct {
		name       string
		points     string
		charge     Charge
		wantErr    error
		wantMethod model.PaymentMethod
		wantEarned string
	}{
		{
			name:       "cash without points",
			points:     "0",
			charge:     Charge{Amount: dec("100"), Method: model.PaymentCash},
			wantMethod: model.PaymentCash,
			wantEarned: "2",
		},
		{
			name:       "cash with points",
			points:     "10",
			charge:     Charge{Amount: dec("100"), Method: model.PaymentCash},
			wantMethod: "Points+Cash",
			wantEarned: "1.8",
		},
		{
			name:       "e-wallet with reference",
			points:     "5",
			charge:     Charge{Amount: dec("55.55"), Method: model.PaymentEWallet, ReferenceNo: "1234567890123"},
			wantMethod: "Points+E-Wallet",
			wantEarned: "1.01",
		},
		{
			name:    "e-wallet without reference",
			points:  "0",
			charge:  Charge{Amount: dec("10"), Method: model.PaymentEWallet},
			wantErr: ErrReferenceRequired,
		},
		{
			name:    "unknown method",
			points:  "0",
			charge:  Charge{Amount: dec("10"), Method: "Barter"},
			wantErr: ErrUnknownMethod,
		},
		{
			name:    "zero amount",
			points:  "0",
			charge:  Charge{Amount: decimal.Zero, Method: model.PaymentCash},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newAccount(tt.points, "0")

			res, err := Settle(&acc, tt.charge)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, acc.TotalSpent.IsZero())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.True(t, res.PointsEarned.Equal(dec(tt.wantEarned)), "earned = %s", res.PointsEarned)
			assert.False(t, acc.PointsBalance.IsNegative())
		})
	}
}

func TestSettle_TierCrossesSilver(t *testing.T) {
	acc := newAccount("0", "0")
	acc.TotalPointsEarned = dec("95")

	_, err := Settle(&acc, Charge{Amount: dec("500"), Method: model.PaymentCash})
	require.NoError(t, err)

	assert.True(t, acc.TotalPointsEarned.Equal(dec("105")))
	assert.Equal(t, model.TierSilver, acc.Tier)

	acc.TotalPointsEarned = dec("90")
	acc.Tier = ApplyTier(acc.Tier, acc.TotalPointsEarned)
	assert.Equal(t, model.TierSilver, acc.Tier, "tier must not downgrade")
}

func TestSettlementFromRecord(t *testing.T) {
	rec := model.TransactionRecord{
		Amount:        dec("120"),
		PointsUsed:    dec("50"),
		PointsEarned:  dec("1.4"),
		WalletDelta:   dec("-70"),
		PaymentMethod: "Points+Wallet",
	}

	res := SettlementFromRecord(rec)
	if !res.WalletDebited.Equal(dec("70")) || !res.Remainder.Equal(dec("70")) {
		t.Fatalf("unexpected settlement: %+v", res)
	}
}
