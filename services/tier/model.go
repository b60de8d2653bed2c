package tier

import "time"

// TierLimits is the read-only per-subscription-tier configuration: the
// budget ceiling a provider may take on, the monthly points allowance, and
// the points cost per budget bracket. A bracket cost of zero means the tier
// does not support cases in that bracket at all.
type TierLimits struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Name             string    `gorm:"column:name"`
	MaxCaseBudget    int64     `gorm:"column:max_case_budget"`
	MonthlyAllowance int64     `gorm:"column:monthly_allowance"`
	CostUpTo500      int64     `gorm:"column:cost_up_to_500"`
	CostUpTo1000     int64     `gorm:"column:cost_up_to_1000"`
	CostUpTo1500     int64     `gorm:"column:cost_up_to_1500"`
	CostUpTo2000     int64     `gorm:"column:cost_up_to_2000"`
	CostUpTo3000     int64     `gorm:"column:cost_up_to_3000"`
	CostUpTo4000     int64     `gorm:"column:cost_up_to_4000"`
	CostUpTo5000     int64     `gorm:"column:cost_up_to_5000"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TierLimits) TableName() string {
	return "tier_limits"
}
