package tier

import (
	"fmt"

	"tradepoint-marketplace/pkg/errutil"
)

// defaultMidpoint prices unknown budget tokens. Tokens are user-facing
// display strings, not validated currency, so legacy rows may carry values
// the table no longer lists.
const defaultMidpoint int64 = 500

// budgetMidpoints maps each budget-range token to its numeric midpoint in BGN.
var budgetMidpoints = map[string]int64{
	"0-250":     125,
	"250-500":   375,
	"500-750":   625,
	"750-1000":  875,
	"1000-1500": 1250,
	"1500-2000": 1750,
	"2000-3000": 2500,
	"3000-4000": 3500,
	"4000-5000": 4500,
	"5000+":     5500,
}

// KnownBudgetRange reports whether the token is one the midpoint table lists.
// New input is rejected at the API boundary when this is false; persisted
// legacy tokens still price via the conservative default.
func KnownBudgetRange(token string) bool {
	_, ok := budgetMidpoints[token]
	return ok
}

// BudgetRangeMidpoint maps a budget-range token to its numeric midpoint.
// Unknown tokens fall back to a conservative default instead of failing.
func BudgetRangeMidpoint(token string) int64 {
	if mid, ok := budgetMidpoints[token]; ok {
		return mid
	}
	return defaultMidpoint
}

// PointsCost returns the points required to win a case with the given budget
// midpoint under the tier. The lookup is piecewise by bracket upper bound;
// midpoints above the table clamp to the highest bracket rather than
// extrapolating. A zero result means the tier does not support the bracket.
func PointsCost(midpoint int64, limits *TierLimits) int64 {
	switch {
	case midpoint <= 500:
		return limits.CostUpTo500
	case midpoint <= 1000:
		return limits.CostUpTo1000
	case midpoint <= 1500:
		return limits.CostUpTo1500
	case midpoint <= 2000:
		return limits.CostUpTo2000
	case midpoint <= 3000:
		return limits.CostUpTo3000
	case midpoint <= 4000:
		return limits.CostUpTo4000
	default:
		return limits.CostUpTo5000
	}
}

// ValidateBudgetCeiling rejects budgets above the tier's maximum case budget.
func ValidateBudgetCeiling(midpoint int64, limits *TierLimits) error {
	if limits.MaxCaseBudget > 0 && midpoint > limits.MaxCaseBudget {
		return errutil.New(errutil.StatusBudgetExceedsTier,
			fmt.Sprintf("case budget %d exceeds the tier ceiling of %d", midpoint, limits.MaxCaseBudget),
			errutil.WithDetails(
				errutil.Detail{Field: "budget_midpoint", Message: fmt.Sprintf("%d", midpoint)},
				errutil.Detail{Field: "max_case_budget", Message: fmt.Sprintf("%d", limits.MaxCaseBudget)},
			),
		)
	}
	return nil
}

// CostForBudget combines the midpoint, ceiling and bracket checks into the
// single gate every charge path uses.
func CostForBudget(token string, limits *TierLimits) (int64, error) {
	midpoint := BudgetRangeMidpoint(token)
	if err := ValidateBudgetCeiling(midpoint, limits); err != nil {
		return 0, err
	}
	cost := PointsCost(midpoint, limits)
	if cost <= 0 {
		return 0, errutil.New(errutil.StatusTierUnsupported,
			fmt.Sprintf("tier %s does not support cases in the %s budget bracket", limits.Name, token))
	}
	return cost, nil
}
