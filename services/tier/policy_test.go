package tier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tradepoint-marketplace/pkg/errutil"
)

func standardTier() *TierLimits {
	return &TierLimits{
		ID:            "tier-standard",
		Name:          "standard",
		MaxCaseBudget: 2000,
		CostUpTo500:   10,
		CostUpTo1000:  20,
		CostUpTo1500:  35,
		CostUpTo2000:  50,
	}
}

func TestBudgetRangeMidpoint(t *testing.T) {
	require.Equal(t, int64(125), BudgetRangeMidpoint("0-250"))
	require.Equal(t, int64(2500), BudgetRangeMidpoint("2000-3000"))
	require.Equal(t, int64(5500), BudgetRangeMidpoint("5000+"))
}

func TestBudgetRangeMidpointUnknownTokenDefaults(t *testing.T) {
	require.False(t, KnownBudgetRange("totally-bogus"))
	require.Equal(t, int64(500), BudgetRangeMidpoint("totally-bogus"))
}

func TestPointsCostBrackets(t *testing.T) {
	limits := standardTier()
	limits.CostUpTo3000 = 70
	limits.CostUpTo4000 = 90
	limits.CostUpTo5000 = 120

	require.Equal(t, int64(10), PointsCost(125, limits))
	require.Equal(t, int64(10), PointsCost(500, limits))
	require.Equal(t, int64(20), PointsCost(625, limits))
	require.Equal(t, int64(35), PointsCost(1250, limits))
	require.Equal(t, int64(50), PointsCost(1750, limits))
	require.Equal(t, int64(70), PointsCost(2500, limits))
	require.Equal(t, int64(90), PointsCost(3500, limits))
	require.Equal(t, int64(120), PointsCost(4500, limits))
	// Above the table: clamp to the highest bracket.
	require.Equal(t, int64(120), PointsCost(5500, limits))
}

func TestValidateBudgetCeiling(t *testing.T) {
	limits := standardTier()

	require.NoError(t, ValidateBudgetCeiling(1750, limits))
	require.NoError(t, ValidateBudgetCeiling(2000, limits))

	err := ValidateBudgetCeiling(2500, limits)
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBudgetExceedsTier, be.Status())
	require.Len(t, be.Details, 2)
}

func TestValidateBudgetCeilingUnlimitedTier(t *testing.T) {
	limits := standardTier()
	limits.MaxCaseBudget = 0

	require.NoError(t, ValidateBudgetCeiling(5500, limits))
}

func TestCostForBudget(t *testing.T) {
	cost, err := CostForBudget("1500-2000", standardTier())
	require.NoError(t, err)
	require.Equal(t, int64(50), cost)
}

func TestCostForBudgetExceedsCeiling(t *testing.T) {
	cost, err := CostForBudget("2000-3000", standardTier())
	require.Error(t, err)
	require.Zero(t, cost)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBudgetExceedsTier, be.Status())
}

func TestCostForBudgetUnsupportedBracket(t *testing.T) {
	limits := standardTier()
	limits.CostUpTo1500 = 0

	cost, err := CostForBudget("1000-1500", limits)
	require.Error(t, err)
	require.Zero(t, cost)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusTierUnsupported, be.Status())
}
