package points

import (
	"time"

	"gorm.io/datatypes"
)

// Transaction types. The transaction log is the source of truth for balance
// reconstruction and auditing.
const (
	TxEarned = "earned"
	TxSpent  = "spent"
	TxBonus  = "bonus"
	TxRefund = "refund"
	TxReset  = "reset"
)

// Account holds a provider's spendable points. CurrentBalance never drops
// below zero; every mutation appends exactly one Transaction row.
type Account struct {
	ID               string    `gorm:"column:id;primaryKey"`
	UserID           string    `gorm:"column:user_id;uniqueIndex;not null"`
	TierID           string    `gorm:"column:tier_id;index"`
	CurrentBalance   int64     `gorm:"column:current_balance"`
	TotalEarned      int64     `gorm:"column:total_earned"`
	TotalSpent       int64     `gorm:"column:total_spent"`
	MonthlyAllowance int64     `gorm:"column:monthly_allowance"`
	LastReset        time.Time `gorm:"column:last_reset"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string {
	return "points_accounts"
}

// Transaction is one ledger row: the signed delta applied to an account and
// the balance that resulted.
type Transaction struct {
	ID           string         `gorm:"column:id;primaryKey"`
	UserID       string         `gorm:"column:user_id;index;not null"`
	Type         string         `gorm:"column:type;not null"`
	Amount       int64          `gorm:"column:amount"`
	BalanceAfter int64          `gorm:"column:balance_after"`
	Reason       string         `gorm:"column:reason"`
	CaseID       string         `gorm:"column:case_id;index"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string {
	return "points_transactions"
}

// Balance is the snapshot returned to callers.
type Balance struct {
	UserID           string `json:"user_id"`
	CurrentBalance   int64  `json:"current_balance"`
	TotalEarned      int64  `json:"total_earned"`
	TotalSpent       int64  `json:"total_spent"`
	MonthlyAllowance int64  `json:"monthly_allowance"`
}
