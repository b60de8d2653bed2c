package cases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/services/points"
	"tradepoint-marketplace/services/testutil"
	"tradepoint-marketplace/services/tier"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Case{}, &Bid{}, &points.Account{}, &tier.TierLimits{})
	return NewRepository(RepositoryParams{DB: db}), db
}

func seedCase(t *testing.T, db *gorm.DB, c *Case) *Case {
	t.Helper()
	require.NoError(t, db.Create(c).Error)
	return c
}

func TestLockCaseForUpdateNotFound(t *testing.T) {
	repo, db := newTestRepo(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.LockCaseForUpdate(context.Background(), tx, "missing")
		return err
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestUpdateNegotiationStampsUpdatedAt(t *testing.T) {
	repo, db := newTestRepo(t)
	c := seedCase(t, db, &Case{ID: "case-1", CustomerID: "cust-1", Status: StatusPending})

	before := time.Now().Add(-time.Second)
	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateNegotiation(context.Background(), tx, c.ID, map[string]any{
			"negotiation_status": NegotiationSPDeclined,
		})
	})
	require.NoError(t, err)

	got, err := repo.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, NegotiationSPDeclined, got.NegotiationStatus)
	require.True(t, got.UpdatedAt.After(before))
}

// bid_order must stay strictly monotonic even when a cancellation frees a
// slot: the sequence never rewinds, only the slot count does.
func TestBidOrderMonotonicAcrossCancel(t *testing.T) {
	repo, db := newTestRepo(t)
	seedCase(t, db, &Case{ID: "case-1", CustomerID: "cust-1", Status: StatusPending, MaxBidders: 3})
	ctx := context.Background()

	var orders []int
	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			c, err := repo.LockCaseForUpdate(ctx, tx, "case-1")
			if err != nil {
				return err
			}
			order, err := repo.IncrementBidderCount(ctx, tx, c)
			if err != nil {
				return err
			}
			orders = append(orders, order)
			return nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, []int{1, 2}, orders)

	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := repo.LockCaseForUpdate(ctx, tx, "case-1")
		if err != nil {
			return err
		}
		return repo.DecrementBidderCount(ctx, tx, c)
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		c, err := repo.LockCaseForUpdate(ctx, tx, "case-1")
		if err != nil {
			return err
		}
		require.Equal(t, 1, c.CurrentBidders)
		order, err := repo.IncrementBidderCount(ctx, tx, c)
		if err != nil {
			return err
		}
		require.Equal(t, 3, order)
		return nil
	})
	require.NoError(t, err)
}

func TestFindBidByProviderSeesRefundedRows(t *testing.T) {
	repo, db := newTestRepo(t)
	seedCase(t, db, &Case{ID: "case-1", CustomerID: "cust-1", Status: StatusPending})
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertBid(ctx, tx, &Bid{
			ID:         "bid-1",
			CaseID:     "case-1",
			ProviderID: "sp-1",
			BidOrder:   1,
			BidStatus:  BidRefunded,
		})
	})
	require.NoError(t, err)

	bid, err := repo.FindBidByProvider(ctx, db, "case-1", "sp-1")
	require.NoError(t, err)
	require.NotNil(t, bid)
	require.Equal(t, BidRefunded, bid.BidStatus)

	none, err := repo.FindBidByProvider(ctx, db, "case-1", "sp-2")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestListBidsOrdered(t *testing.T) {
	repo, db := newTestRepo(t)
	seedCase(t, db, &Case{ID: "case-1", CustomerID: "cust-1", Status: StatusPending})
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, b := range []*Bid{
			{ID: "bid-2", CaseID: "case-1", ProviderID: "sp-2", BidOrder: 2},
			{ID: "bid-1", CaseID: "case-1", ProviderID: "sp-1", BidOrder: 1},
			{ID: "bid-3", CaseID: "case-1", ProviderID: "sp-3", BidOrder: 3},
		} {
			if err := repo.InsertBid(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	bids, err := repo.ListBids(ctx, db, "case-1")
	require.NoError(t, err)
	require.Len(t, bids, 3)
	require.Equal(t, []string{"bid-1", "bid-2", "bid-3"}, []string{bids[0].ID, bids[1].ID, bids[2].ID})
}

func TestLookupTierLimits(t *testing.T) {
	repo, db := newTestRepo(t)
	require.NoError(t, db.Create(&tier.TierLimits{ID: "tier-standard", Name: "standard", MaxCaseBudget: 2000}).Error)
	require.NoError(t, db.Create(&points.Account{ID: "acct-1", UserID: "sp-1", TierID: "tier-standard"}).Error)

	limits, err := repo.LookupTierLimits(context.Background(), db, "sp-1")
	require.NoError(t, err)
	require.Equal(t, "standard", limits.Name)

	_, err = repo.LookupTierLimits(context.Background(), db, "ghost")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

// The tier read must ride the caller's transaction. The test pool has a
// single connection, so reading through the base handle while the
// transaction holds that connection would block forever.
func TestLookupTierLimitsInsideTransaction(t *testing.T) {
	repo, db := newTestRepo(t)
	require.NoError(t, db.Create(&tier.TierLimits{ID: "tier-standard", Name: "standard", MaxCaseBudget: 2000}).Error)
	require.NoError(t, db.Create(&points.Account{ID: "acct-1", UserID: "sp-1", TierID: "tier-standard"}).Error)
	seedCase(t, db, &Case{ID: "case-1", CustomerID: "cust-1", Status: StatusPending})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- db.Transaction(func(tx *gorm.DB) error {
			if _, err := repo.LockCaseForUpdate(ctx, tx, "case-1"); err != nil {
				return err
			}
			limits, err := repo.LookupTierLimits(ctx, tx, "sp-1")
			if err != nil {
				return err
			}
			require.Equal(t, "standard", limits.Name)
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tier lookup blocked on the connection pool inside a transaction")
	}
}
