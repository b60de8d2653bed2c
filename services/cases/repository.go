package cases

import (
	"context"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/db/option"
	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/pkg/repository"
	"tradepoint-marketplace/services/points"
	"tradepoint-marketplace/services/tier"
)

// Repository owns case and bid rows and the locking primitives the engines
// build on. Every negotiation mutation starts with LockCaseForUpdate inside
// the engine's transaction; the case lock is always taken before any points
// account is touched, keeping lock order consistent across flows.
type Repository struct {
	db       *gorm.DB
	cases    repository.Repository[Case]
	bids     repository.Repository[Bid]
	accounts repository.Repository[points.Account]
	tiers    repository.Repository[tier.TierLimits]
}

type RepositoryParams struct {
	fx.In
	DB *gorm.DB
}

func NewRepository(p RepositoryParams) *Repository {
	return &Repository{
		db:       p.DB,
		cases:    repository.ProvideStore[Case](p.DB),
		bids:     repository.ProvideStore[Bid](p.DB),
		accounts: repository.ProvideStore[points.Account](p.DB),
		tiers:    repository.ProvideStore[tier.TierLimits](p.DB),
	}
}

// LockCaseForUpdate opens a row-level exclusive lock on the case within the
// caller's transaction. Concurrent actors on the same case block here until
// the holding transaction commits or rolls back.
func (r *Repository) LockCaseForUpdate(ctx context.Context, tx *gorm.DB, caseID string) (*Case, error) {
	c, err := r.cases.WithTrx(tx).FindOne(ctx, &Case{ID: caseID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("case not found")
	}
	return c, nil
}

// GetCase is the unlocked read used by advisory checks.
func (r *Repository) GetCase(ctx context.Context, caseID string) (*Case, error) {
	c, err := r.cases.FindOne(ctx, &Case{ID: caseID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("case not found")
	}
	return c, nil
}

// LookupTierLimits resolves a provider's tier configuration. Deliberately
// unlocked: tier data does not change during a negotiation, and locking it
// would risk deadlock with unrelated tier lookups. Callers inside a
// transaction must pass it as tx so the read rides the connection the
// transaction already holds instead of waiting on the pool for a second one.
func (r *Repository) LookupTierLimits(ctx context.Context, tx *gorm.DB, userID string) (*tier.TierLimits, error) {
	account, err := r.accounts.WithTrx(tx).FindOne(ctx, &points.Account{UserID: userID})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errutil.NotFound("points account not found")
	}

	limits, err := r.tiers.WithTrx(tx).FindOne(ctx, &tier.TierLimits{ID: account.TierID})
	if err != nil {
		return nil, err
	}
	if limits == nil {
		return nil, errutil.NotFound("tier configuration not found")
	}
	return limits, nil
}

// UpdateNegotiation applies a partial update to the case's negotiation
// fields, always stamping updated_at.
func (r *Repository) UpdateNegotiation(ctx context.Context, tx *gorm.DB, caseID string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return r.cases.WithTrx(tx).Update(ctx, caseID, fields)
}

// IncrementBidderCount takes the next bid slot under the already-held case
// lock. bid_sequence only ever grows, so bid_order stays strictly monotonic
// even when a cancellation later frees a slot.
func (r *Repository) IncrementBidderCount(ctx context.Context, tx *gorm.DB, c *Case) (int, error) {
	order := c.BidSequence + 1
	err := r.cases.WithTrx(tx).Update(ctx, c.ID, map[string]any{
		"current_bidders": c.CurrentBidders + 1,
		"bid_sequence":    order,
		"updated_at":      time.Now(),
	})
	if err != nil {
		return 0, err
	}
	c.CurrentBidders++
	c.BidSequence = order
	return order, nil
}

// DecrementBidderCount frees a bid slot after a cancellation.
func (r *Repository) DecrementBidderCount(ctx context.Context, tx *gorm.DB, c *Case) error {
	next := c.CurrentBidders - 1
	if next < 0 {
		next = 0
	}
	err := r.cases.WithTrx(tx).Update(ctx, c.ID, map[string]any{
		"current_bidders": next,
		"updated_at":      time.Now(),
	})
	if err != nil {
		return err
	}
	c.CurrentBidders = next
	return nil
}

func (r *Repository) InsertBid(ctx context.Context, tx *gorm.DB, bid *Bid) error {
	return r.bids.WithTrx(tx).Create(ctx, bid)
}

func (r *Repository) UpdateBid(ctx context.Context, tx *gorm.DB, bidID string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return r.bids.WithTrx(tx).Update(ctx, bidID, fields)
}

func (r *Repository) GetBid(ctx context.Context, tx *gorm.DB, bidID string) (*Bid, error) {
	bid, err := r.bids.WithTrx(tx).FindOne(ctx, &Bid{ID: bidID})
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, errutil.NotFound("bid not found")
	}
	return bid, nil
}

// FindBidByProvider returns the provider's bid on the case, or nil. Bid rows
// survive cancellation (as refunded), so this also enforces the one-bid-per-
// provider-per-case rule.
func (r *Repository) FindBidByProvider(ctx context.Context, tx *gorm.DB, caseID, providerID string) (*Bid, error) {
	return r.bids.WithTrx(tx).FindOne(ctx, &Bid{CaseID: caseID, ProviderID: providerID})
}

func (r *Repository) ListBids(ctx context.Context, tx *gorm.DB, caseID string) ([]*Bid, error) {
	return r.bids.WithTrx(tx).Find(ctx, &Bid{CaseID: caseID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "bid_order",
			OrderBy: "asc",
			Allow:   map[string]bool{"bid_order": true},
		}),
	)
}
