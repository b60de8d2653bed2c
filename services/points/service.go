package points

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/db/option"
	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/pkg/repository"
)

// Service owns provider point balances and their transaction log. Balance
// mutations exist in two forms: a public form that opens its own transaction,
// and a Tx form the negotiation engines call so the ledger movement commits
// or rolls back together with the case mutation it funds.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	accounts     repository.Repository[Account]
	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		accounts:     repository.ProvideStore[Account](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
	)

	account, err := s.accounts.FindOne(ctx, &Account{UserID: userID})
	if err != nil {
		zapLog.Error("failed to query points account", zap.Error(err))
		return nil, err
	}
	if account == nil {
		return nil, errutil.NotFound("points account not found")
	}

	return &Balance{
		UserID:           account.UserID,
		CurrentBalance:   account.CurrentBalance,
		TotalEarned:      account.TotalEarned,
		TotalSpent:       account.TotalSpent,
		MonthlyAllowance: account.MonthlyAllowance,
	}, nil
}

// Spend deducts points in its own transaction. Engines composing a spend with
// a case mutation use SpendTx instead.
func (s *Service) Spend(ctx context.Context, userID string, amount int64, reason, caseID string) (int64, error) {
	var newBalance int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = s.SpendTx(ctx, tx, userID, amount, reason, caseID)
		return err
	})
	return newBalance, err
}

// SpendTx deducts points inside the caller's transaction. The account row is
// locked before the balance check, so there is no lost-update window between
// the check and the decrement.
func (s *Service) SpendTx(ctx context.Context, tx *gorm.DB, userID string, amount int64, reason, caseID string) (int64, error) {
	if amount <= 0 {
		return 0, errutil.ValidationFailed("spend amount must be positive")
	}

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	if account.CurrentBalance < amount {
		return 0, errutil.New(errutil.StatusInsufficientPoints,
			fmt.Sprintf("insufficient points: required %d, available %d", amount, account.CurrentBalance),
			errutil.WithDetails(
				errutil.Detail{Field: "required_points", Message: fmt.Sprintf("%d", amount)},
				errutil.Detail{Field: "available_points", Message: fmt.Sprintf("%d", account.CurrentBalance)},
			),
		)
	}

	newBalance := account.CurrentBalance - amount
	updates := map[string]any{
		"current_balance": newBalance,
		"total_spent":     account.TotalSpent + amount,
		"updated_at":      time.Now(),
	}
	if err := s.accounts.WithTrx(tx).Update(ctx, account.ID, updates); err != nil {
		return 0, err
	}

	if err := s.appendTransaction(ctx, tx, account, TxSpent, -amount, newBalance, reason, caseID); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Award credits points. Kind must be earned, bonus or reset; reset restores
// the balance to the account's monthly allowance and stamps last_reset, the
// amount argument is ignored for it.
func (s *Service) Award(ctx context.Context, userID string, amount int64, reason, kind string) (int64, error) {
	var newBalance int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = s.AwardTx(ctx, tx, userID, amount, reason, kind)
		return err
	})
	return newBalance, err
}

func (s *Service) AwardTx(ctx context.Context, tx *gorm.DB, userID string, amount int64, reason, kind string) (int64, error) {
	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	var newBalance int64
	updates := map[string]any{"updated_at": time.Now()}

	switch kind {
	case TxEarned, TxBonus:
		if amount <= 0 {
			return 0, errutil.ValidationFailed("award amount must be positive")
		}
		newBalance = account.CurrentBalance + amount
		updates["current_balance"] = newBalance
		updates["total_earned"] = account.TotalEarned + amount
	case TxReset:
		newBalance = account.MonthlyAllowance
		amount = newBalance - account.CurrentBalance
		updates["current_balance"] = newBalance
		updates["last_reset"] = time.Now()
	default:
		return 0, errutil.ValidationFailed(fmt.Sprintf("unsupported award kind %q", kind))
	}

	if err := s.accounts.WithTrx(tx).Update(ctx, account.ID, updates); err != nil {
		return 0, err
	}

	if err := s.appendTransaction(ctx, tx, account, kind, amount, newBalance, reason, ""); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Refund returns points previously taken by a Spend of the same amount,
// reversing both the balance and the total_spent counter.
func (s *Service) Refund(ctx context.Context, userID string, amount int64, reason, caseID string) (int64, error) {
	var newBalance int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = s.RefundTx(ctx, tx, userID, amount, reason, caseID)
		return err
	})
	return newBalance, err
}

func (s *Service) RefundTx(ctx context.Context, tx *gorm.DB, userID string, amount int64, reason, caseID string) (int64, error) {
	if amount <= 0 {
		return 0, errutil.ValidationFailed("refund amount must be positive")
	}

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := account.CurrentBalance + amount
	totalSpent := account.TotalSpent - amount
	if totalSpent < 0 {
		totalSpent = 0
	}
	updates := map[string]any{
		"current_balance": newBalance,
		"total_spent":     totalSpent,
		"updated_at":      time.Now(),
	}
	if err := s.accounts.WithTrx(tx).Update(ctx, account.ID, updates); err != nil {
		return 0, err
	}

	if err := s.appendTransaction(ctx, tx, account, TxRefund, amount, newBalance, reason, caseID); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// AwardBonus is the privileged admin credit operation.
func (s *Service) AwardBonus(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	return s.Award(ctx, userID, amount, reason, TxBonus)
}

// ResetAllowance applies the subscription-cycle reset for one account.
func (s *Service) ResetAllowance(ctx context.Context, userID string) (int64, error) {
	return s.Award(ctx, userID, 0, "monthly allowance reset", TxReset)
}

// History returns the account's transaction log, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.transactions.Find(ctx, &Transaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit, offset),
	)
}

// CountTransactions reports the log size, for pagination alongside History.
func (s *Service) CountTransactions(ctx context.Context, userID string) (int64, error) {
	return s.transactions.Count(ctx, &Transaction{UserID: userID})
}

func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, userID string) (*Account, error) {
	account, err := s.accounts.WithTrx(tx).FindOne(ctx, &Account{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errutil.NotFound("points account not found")
	}
	return account, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx *gorm.DB, account *Account, kind string, amount, balanceAfter int64, reason, caseID string) error {
	return s.transactions.WithTrx(tx).Create(ctx, &Transaction{
		ID:           s.node.Generate().String(),
		UserID:       account.UserID,
		Type:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		CaseID:       caseID,
	})
}
