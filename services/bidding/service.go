package bidding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/config"
	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/services/cases"
	"tradepoint-marketplace/services/notify"
	"tradepoint-marketplace/services/points"
	"tradepoint-marketplace/services/tier"
)

// Eligibility is the advisory answer to "can this provider bid right now".
// It never reserves anything; PlaceBid re-validates under the case lock.
type Eligibility struct {
	CanBid bool             `json:"can_bid"`
	Reason string           `json:"reason,omitempty"`
	Code   string           `json:"code,omitempty"`
	Detail []errutil.Detail `json:"details,omitempty"`
}

// PlaceBidInput carries the provider's offer on an open case.
type PlaceBidInput struct {
	CaseID              string
	ProviderID          string
	ProposedBudgetRange string
	Comment             string
}

// Service drives open-case bidding: capped participation, an upfront
// participation fee, winner selection by the customer, and refunds on
// cancellation.
type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	cfg     *config.Config
	repo    *cases.Repository
	points  *points.Service
	gateway notify.Gateway
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Repo    *cases.Repository
	Points  *points.Service
	Gateway notify.Gateway
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		cfg:     p.Config,
		repo:    p.Repo,
		points:  p.Points,
		gateway: p.Gateway,
	}
}

func (s *Service) participationFee() int64 {
	if s.cfg != nil && s.cfg.Negotiation.ParticipationFee > 0 {
		return s.cfg.Negotiation.ParticipationFee
	}
	return 5
}

// CanBid answers the pre-flight check without taking any lock. The answer can
// go stale immediately; it exists so the UI can explain ineligibility before
// the provider composes a bid.
func (s *Service) CanBid(ctx context.Context, caseID, providerID string) (*Eligibility, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
			return &Eligibility{Reason: "case not found", Code: string(errutil.StatusNotFound)}, nil
		}
		return nil, err
	}

	if verdict := s.checkCaseOpen(c, providerID); verdict != nil {
		return verdict, nil
	}

	existing, err := s.repo.FindBidByProvider(ctx, s.db, caseID, providerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Eligibility{Reason: "provider already bid on this case", Code: string(errutil.StatusDuplicateBid)}, nil
	}

	limits, err := s.repo.LookupTierLimits(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}
	cost, err := tier.CostForBudget(c.CustomerBudget, limits)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return &Eligibility{Reason: be.Message, Code: string(be.Code), Detail: be.Details}, nil
		}
		return nil, err
	}

	balance, err := s.points.GetBalance(ctx, providerID)
	if err != nil {
		return nil, err
	}
	fee := s.participationFee()
	if balance.CurrentBalance < fee {
		return &Eligibility{
			Reason: "insufficient points for the participation fee",
			Code:   string(errutil.StatusInsufficientPoints),
			Detail: []errutil.Detail{
				{Field: "required_points", Message: strconv.FormatInt(fee, 10)},
				{Field: "available_points", Message: strconv.FormatInt(balance.CurrentBalance, 10)},
			},
		}, nil
	}
	if balance.CurrentBalance < cost {
		return &Eligibility{
			Reason: "insufficient points to win at this budget",
			Code:   string(errutil.StatusInsufficientPoints),
			Detail: []errutil.Detail{
				{Field: "required_points", Message: strconv.FormatInt(cost, 10)},
				{Field: "available_points", Message: strconv.FormatInt(balance.CurrentBalance, 10)},
			},
		}, nil
	}

	return &Eligibility{CanBid: true}, nil
}

func (s *Service) checkCaseOpen(c *cases.Case, providerID string) *Eligibility {
	switch {
	case c.CustomerID == providerID:
		return &Eligibility{Reason: "cannot bid on your own case", Code: string(errutil.StatusForbidden)}
	case !c.BiddingEnabled:
		return &Eligibility{Reason: "bidding is not enabled on this case", Code: string(errutil.StatusBiddingClosed)}
	case c.BiddingClosed:
		return &Eligibility{Reason: "bidding on this case is closed", Code: string(errutil.StatusBiddingClosed)}
	case c.Status != cases.StatusPending:
		return &Eligibility{Reason: fmt.Sprintf("case is %s", c.Status), Code: string(errutil.StatusBiddingClosed)}
	case c.CurrentBidders >= c.MaxBidders:
		return &Eligibility{Reason: "all bidder slots are taken", Code: string(errutil.StatusMaxBiddersReached)}
	}
	return nil
}

// PlaceBid takes a bidder slot and charges the participation fee in one
// transaction. The slot count, duplicate check, and fee deduction all happen
// under the case lock so two racing providers cannot both take the last slot.
func (s *Service) PlaceBid(ctx context.Context, in PlaceBidInput) (*cases.Bid, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("case_id", in.CaseID),
		zap.String("provider_id", in.ProviderID),
	)

	if in.ProposedBudgetRange != "" && !tier.KnownBudgetRange(in.ProposedBudgetRange) {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown budget range %q", in.ProposedBudgetRange))
	}

	var bid *cases.Bid
	var notes []notify.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, in.CaseID)
		if err != nil {
			return err
		}

		if c.CustomerID == in.ProviderID {
			return errutil.Forbidden("cannot bid on your own case")
		}
		if !c.BiddingEnabled || c.BiddingClosed || c.Status != cases.StatusPending {
			return errutil.New(errutil.StatusBiddingClosed, "bidding on this case is closed")
		}
		if c.CurrentBidders >= c.MaxBidders {
			return errutil.New(errutil.StatusMaxBiddersReached, "all bidder slots are taken",
				errutil.WithDetails(errutil.Detail{Field: "max_bidders", Message: strconv.Itoa(c.MaxBidders)}))
		}

		existing, err := s.repo.FindBidByProvider(ctx, tx, c.ID, in.ProviderID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errutil.New(errutil.StatusDuplicateBid, "provider already bid on this case")
		}

		limits, err := s.repo.LookupTierLimits(ctx, tx, in.ProviderID)
		if err != nil {
			return err
		}
		// The case budget gates eligibility (ceiling, supported bracket); the
		// quote itself prices the provider's own proposal when one is given.
		cost, err := tier.CostForBudget(c.CustomerBudget, limits)
		if err != nil {
			return err
		}
		if in.ProposedBudgetRange != "" {
			cost, err = tier.CostForBudget(in.ProposedBudgetRange, limits)
			if err != nil {
				return err
			}
		}

		fee := s.participationFee()
		if _, err := s.points.SpendTx(ctx, tx, in.ProviderID, fee, "bid participation fee", c.ID); err != nil {
			return err
		}

		order, err := s.repo.IncrementBidderCount(ctx, tx, c)
		if err != nil {
			return err
		}

		bid = &cases.Bid{
			ID:                  s.node.Generate().String(),
			CaseID:              c.ID,
			ProviderID:          in.ProviderID,
			BidOrder:            order,
			ProposedBudgetRange: in.ProposedBudgetRange,
			BidComment:          in.Comment,
			BidStatus:           cases.BidPending,
			ParticipationPoints: fee,
			PointsBid:           cost,
		}
		if err := s.repo.InsertBid(ctx, tx, bid); err != nil {
			return err
		}

		notes = append(notes, notify.Message{
			UserID: c.CustomerID,
			Kind:   "new_bid",
			Title:  "New bid on your case",
			Body:   fmt.Sprintf("A provider placed bid #%d on your case.", order),
			Data:   map[string]any{"case_id": c.ID, "bid_id": bid.ID},
		})
		return nil
	})
	if err != nil {
		zapLog.Warn("bid rejected", zap.Error(err))
		return nil, err
	}

	notify.Dispatch(ctx, s.gateway, notes)

	return bid, nil
}

// SelectWinningBid settles the auction. The winner's remaining cost (full bid
// minus the fee already paid) is charged first; if that fails nothing else
// happens and the case stays open. Losers keep only their fee as sunk cost.
func (s *Service) SelectWinningBid(ctx context.Context, caseID, customerID, bidID string) (*cases.Case, error) {
	var notes []notify.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}

		if c.CustomerID != customerID {
			return errutil.Forbidden("only the case's customer may select a winner")
		}
		if c.BiddingClosed {
			return errutil.New(errutil.StatusBiddingClosed, "bidding on this case is already settled")
		}

		winner, err := s.repo.GetBid(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if winner.CaseID != c.ID {
			return errutil.NotFound("bid does not belong to this case")
		}
		if winner.BidStatus != cases.BidPending {
			return errutil.InvalidState(fmt.Sprintf("bid is %s, not pending", winner.BidStatus))
		}

		// The fee was deducted at bid time, so only the remainder moves now.
		remainder := winner.PointsBid - winner.ParticipationPoints
		if remainder > 0 {
			if _, err := s.points.SpendTx(ctx, tx, winner.ProviderID, remainder, "winning bid settled", c.ID); err != nil {
				return err
			}
		}

		err = s.repo.UpdateBid(ctx, tx, winner.ID, map[string]any{
			"bid_status":      cases.BidWon,
			"points_deducted": winner.PointsBid,
		})
		if err != nil {
			return err
		}

		others, err := s.repo.ListBids(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		for _, b := range others {
			if b.ID == winner.ID || b.BidStatus != cases.BidPending {
				continue
			}
			err := s.repo.UpdateBid(ctx, tx, b.ID, map[string]any{
				"bid_status":      cases.BidLost,
				"points_deducted": b.ParticipationPoints,
			})
			if err != nil {
				return err
			}
			notes = append(notes, notify.Message{
				UserID: b.ProviderID,
				Kind:   "bid_lost",
				Title:  "Bid not selected",
				Body:   "The customer selected another bid for this case.",
				Data:   map[string]any{"case_id": c.ID, "bid_id": b.ID},
			})
		}

		now := time.Now()
		err = s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
			"status":             cases.StatusAccepted,
			"negotiation_status": cases.NegotiationAccepted,
			"provider_id":        winner.ProviderID,
			"assigned_sp_id":     winner.ProviderID,
			"bidding_closed":     true,
			"bidding_closed_at":  now,
			"winning_bid_id":     winner.ID,
		})
		if err != nil {
			return err
		}

		notes = append(notes, notify.Message{
			UserID: winner.ProviderID,
			Kind:   "bid_won",
			Title:  "Your bid won",
			Body:   "The customer selected your bid. The case is yours.",
			Data:   map[string]any{"case_id": c.ID, "bid_id": winner.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, s.gateway, notes)

	return s.repo.GetCase(ctx, caseID)
}

// CancelBid withdraws a pending bid before settlement. The participation fee
// comes back in full and the bidder slot frees up; bid_order numbers already
// handed out are never reused.
func (s *Service) CancelBid(ctx context.Context, caseID, providerID, bidID string) (*cases.Bid, error) {
	var bid *cases.Bid
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if c.BiddingClosed {
			return errutil.New(errutil.StatusBiddingClosed, "bidding on this case is already settled")
		}

		bid, err = s.repo.GetBid(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if bid.CaseID != c.ID {
			return errutil.NotFound("bid does not belong to this case")
		}
		if bid.ProviderID != providerID {
			return errutil.Forbidden("only the bid's owner may cancel it")
		}
		if bid.BidStatus != cases.BidPending {
			return errutil.InvalidState(fmt.Sprintf("bid is %s, not pending", bid.BidStatus))
		}

		if bid.ParticipationPoints > 0 {
			if _, err := s.points.RefundTx(ctx, tx, providerID, bid.ParticipationPoints, "bid cancelled", c.ID); err != nil {
				return err
			}
		}

		err = s.repo.UpdateBid(ctx, tx, bid.ID, map[string]any{
			"bid_status":      cases.BidRefunded,
			"points_deducted": 0,
		})
		if err != nil {
			return err
		}

		if err := s.repo.DecrementBidderCount(ctx, tx, c); err != nil {
			return err
		}

		bid.BidStatus = cases.BidRefunded
		bid.PointsDeducted = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// ListBids returns a case's bids in bid_order. The customer sees all bids;
// anyone else only sees their own.
func (s *Service) ListBids(ctx context.Context, caseID, callerID string) ([]*cases.Bid, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	bids, err := s.repo.ListBids(ctx, s.db, caseID)
	if err != nil {
		return nil, err
	}
	if c.CustomerID == callerID {
		return bids, nil
	}

	own := make([]*cases.Bid, 0, 1)
	for _, b := range bids {
		if b.ProviderID == callerID {
			own = append(own, b)
		}
	}
	return own, nil
}
