package negotiation

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/config"
	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/services/cases"
	"tradepoint-marketplace/services/notify"
	"tradepoint-marketplace/services/points"
	"tradepoint-marketplace/services/testutil"
	"tradepoint-marketplace/services/tier"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	points *points.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&cases.Case{}, &cases.Bid{},
		&points.Account{}, &points.Transaction{},
		&tier.TierLimits{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Negotiation.ParticipationFee = 5
	cfg.Negotiation.DefaultMaxBidders = 3

	pts := points.NewService(points.ServiceParams{DB: db, Node: node})
	repo := cases.NewRepository(cases.RepositoryParams{DB: db})

	svc := NewService(ServiceParams{
		DB:      db,
		Config:  cfg,
		Repo:    repo,
		Points:  pts,
		Gateway: notify.NopGateway{},
	})

	return &fixture{db: db, svc: svc, points: pts}
}

func (f *fixture) seedTier(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Create(&tier.TierLimits{
		ID:            "tier-standard",
		Name:          "standard",
		MaxCaseBudget: 2000,
		CostUpTo500:   10,
		CostUpTo1000:  20,
		CostUpTo1500:  35,
		CostUpTo2000:  50,
	}).Error)
}

func (f *fixture) seedProvider(t *testing.T, userID string, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&points.Account{
		ID:               "acct-" + userID,
		UserID:           userID,
		TierID:           "tier-standard",
		CurrentBalance:   balance,
		MonthlyAllowance: 100,
	}).Error)
}

func (f *fixture) seedDirectCase(t *testing.T, budget string) *cases.Case {
	t.Helper()
	c := &cases.Case{
		ID:                "case-1",
		CustomerID:        "cust-1",
		Status:            cases.StatusPending,
		NegotiationStatus: cases.NegotiationPendingSPReview,
		AssignmentType:    cases.AssignmentSpecific,
		AssignedSPID:      "sp-1",
		CustomerBudget:    budget,
		MaxBidders:        3,
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.points.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.CurrentBalance
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) errutil.BaseError {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %v", err)
	require.Equal(t, want, be.Status())
	return be
}

func TestProviderAcceptDeductsPoints(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "500-750")

	c, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionAccept, "", "")
	require.NoError(t, err)
	require.Equal(t, cases.StatusAccepted, c.Status)
	require.Equal(t, cases.NegotiationAccepted, c.NegotiationStatus)
	require.Equal(t, "sp-1", c.ProviderID)

	// 500-750 midpoint 625 prices at the up-to-1000 bracket.
	require.Equal(t, int64(60), f.balance(t, "sp-1"))
}

func TestProviderAcceptInsufficientPoints(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 5)
	f.seedDirectCase(t, "500-750")

	_, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionAccept, "", "")
	requireStatus(t, err, errutil.StatusInsufficientPoints)

	// The rejection rolled everything back.
	require.Equal(t, int64(5), f.balance(t, "sp-1"))

	var c cases.Case
	require.NoError(t, f.db.First(&c, "id = ?", "case-1").Error)
	require.Equal(t, cases.StatusPending, c.Status)
	require.Equal(t, cases.NegotiationPendingSPReview, c.NegotiationStatus)
}

func TestProviderAcceptBudgetExceedsTier(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 500)
	f.seedDirectCase(t, "2000-3000")

	_, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionAccept, "", "")
	requireStatus(t, err, errutil.StatusBudgetExceedsTier)
	require.Equal(t, int64(500), f.balance(t, "sp-1"))
}

func TestProviderDeclineReopensForBidding(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "500-750")

	c, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionDecline, "", "too busy")
	require.NoError(t, err)
	require.Equal(t, cases.StatusPending, c.Status)
	require.Equal(t, cases.NegotiationSPDeclined, c.NegotiationStatus)
	require.Empty(t, c.AssignedSPID)
	require.True(t, c.BiddingEnabled)
	require.Equal(t, 3, c.MaxBidders)
	require.Equal(t, "too busy", c.DeclineReason)

	// Declining is free.
	require.Equal(t, int64(80), f.balance(t, "sp-1"))
}

func TestProviderRespondWrongProvider(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "500-750")

	_, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-2", ActionAccept, "", "")
	requireStatus(t, err, errutil.StatusForbidden)
}

func TestProviderCounterThenCustomerAcceptChargesProvider(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")
	ctx := context.Background()

	c, err := f.svc.ProviderRespond(ctx, "case-1", "sp-1", ActionCounter, "750-1000", "more scope than expected")
	require.NoError(t, err)
	require.Equal(t, cases.NegotiationCounterOffered, c.NegotiationStatus)
	require.Equal(t, "750-1000", c.SPCounterBudget)
	require.Equal(t, "more scope than expected", c.CounterMessage)

	// No charge until the customer accepts.
	require.Equal(t, int64(80), f.balance(t, "sp-1"))

	result, err := f.svc.CustomerRespond(ctx, "case-1", "cust-1", ActionAccept)
	require.NoError(t, err)
	require.Equal(t, cases.StatusAccepted, result.Case.Status)
	require.Equal(t, "750-1000", result.Case.CustomerBudget)
	require.Equal(t, "sp-1", result.Case.ProviderID)

	// Midpoint 875 prices at the up-to-1000 bracket; the provider pays.
	require.Equal(t, int64(60), f.balance(t, "sp-1"))
}

func TestCustomerAcceptProviderCanNoLongerAfford(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")
	ctx := context.Background()

	_, err := f.svc.ProviderRespond(ctx, "case-1", "sp-1", ActionCounter, "750-1000", "")
	require.NoError(t, err)

	// Drain the provider's balance between the offer and the acceptance.
	_, err = f.points.Spend(ctx, "sp-1", 70, "other case", "case-9")
	require.NoError(t, err)

	_, err = f.svc.CustomerRespond(ctx, "case-1", "cust-1", ActionAccept)
	be := requireStatus(t, err, errutil.StatusInsufficientPoints)

	var party bool
	for _, d := range be.Details {
		if d.Field == "party" && d.Message == "provider" {
			party = true
		}
	}
	require.True(t, party)

	var c cases.Case
	require.NoError(t, f.db.First(&c, "id = ?", "case-1").Error)
	require.Equal(t, cases.NegotiationCounterOffered, c.NegotiationStatus)
}

func TestCustomerDeclineOffersNextActions(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")
	ctx := context.Background()

	_, err := f.svc.ProviderRespond(ctx, "case-1", "sp-1", ActionCounter, "750-1000", "")
	require.NoError(t, err)

	result, err := f.svc.CustomerRespond(ctx, "case-1", "cust-1", ActionDecline)
	require.NoError(t, err)
	require.Equal(t, cases.NegotiationCustomerDeclined, result.Case.NegotiationStatus)
	require.Equal(t, []string{"cancel", "send_to_marketplace"}, result.NextActions)
}

func TestCounterRequiresKnownBudget(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")

	_, err := f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionCounter, "", "")
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = f.svc.ProviderRespond(context.Background(), "case-1", "sp-1", ActionCounter, "a-zillion", "")
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestSendToMarketplaceResetsBiddingState(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")
	ctx := context.Background()

	_, err := f.svc.ProviderRespond(ctx, "case-1", "sp-1", ActionDecline, "", "")
	require.NoError(t, err)

	c, err := f.svc.SendToMarketplace(ctx, "case-1", "cust-1")
	require.NoError(t, err)
	require.Equal(t, cases.StatusPending, c.Status)
	require.Equal(t, cases.NegotiationNone, c.NegotiationStatus)
	require.Equal(t, cases.AssignmentOpen, c.AssignmentType)
	require.True(t, c.IsOpenCase)
	require.True(t, c.BiddingEnabled)
	require.False(t, c.BiddingClosed)
	require.Empty(t, c.AssignedSPID)
	require.Zero(t, c.CurrentBidders)
}

func TestSendToMarketplaceRequiresDeclinedState(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")

	_, err := f.svc.SendToMarketplace(context.Background(), "case-1", "cust-1")
	requireStatus(t, err, errutil.StatusInvalidState)
}

func TestCancelBlockedOnceAccepted(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")
	ctx := context.Background()

	_, err := f.svc.ProviderRespond(ctx, "case-1", "sp-1", ActionAccept, "", "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "case-1", "cust-1")
	requireStatus(t, err, errutil.StatusInvalidState)
}

func TestCancelPendingCase(t *testing.T) {
	f := newFixture(t)
	f.seedTier(t)
	f.seedProvider(t, "sp-1", 80)
	f.seedDirectCase(t, "250-500")

	c, err := f.svc.Cancel(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)
	require.Equal(t, cases.StatusCancelled, c.Status)
	require.Equal(t, cases.NegotiationCancelled, c.NegotiationStatus)
}
