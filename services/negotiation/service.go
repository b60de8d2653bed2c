package negotiation

import (
	"context"
	"errors"
	"fmt"

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

// Provider and customer response actions.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionCounter = "counter"
)

// Result carries the case state after a customer response plus the follow-up
// actions the customer can take from it.
type Result struct {
	Case        *cases.Case `json:"case"`
	NextActions []string    `json:"next_actions,omitempty"`
}

// Service drives the direct-assignment flow: a case sent to one specific
// provider who can accept, decline, or counter-offer. Every operation is one
// lock-acquire, validate, mutate, commit sequence followed by best-effort
// notification.
type Service struct {
	db      *gorm.DB
	cfg     *config.Config
	repo    *cases.Repository
	points  *points.Service
	gateway notify.Gateway
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Config  *config.Config
	Repo    *cases.Repository
	Points  *points.Service
	Gateway notify.Gateway
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		cfg:     p.Config,
		repo:    p.Repo,
		points:  p.Points,
		gateway: p.Gateway,
	}
}

// ProviderRespond handles the assigned provider's answer to a direct case.
func (s *Service) ProviderRespond(ctx context.Context, caseID, providerID, action, counterBudget, message string) (*cases.Case, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("case_id", caseID),
		zap.String("provider_id", providerID),
		zap.String("action", action),
	)

	switch action {
	case ActionAccept, ActionDecline, ActionCounter:
	default:
		return nil, errutil.ValidationFailed(fmt.Sprintf("unsupported action %q", action))
	}
	if action == ActionCounter {
		if counterBudget == "" {
			return nil, errutil.ValidationFailed("counter offer requires a budget range")
		}
		if !tier.KnownBudgetRange(counterBudget) {
			return nil, errutil.ValidationFailed(fmt.Sprintf("unknown budget range %q", counterBudget))
		}
	}

	var notes []notify.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}

		if c.AssignedSPID != providerID && c.ProviderID != providerID {
			return errutil.Forbidden("case is not assigned to this provider")
		}
		if !awaitingProviderReview(c) {
			return errutil.InvalidState(fmt.Sprintf("case is not awaiting provider review (negotiation status %q)", c.NegotiationStatus))
		}

		switch action {
		case ActionAccept:
			notes, err = s.providerAccept(ctx, tx, c, providerID)
		case ActionDecline:
			notes, err = s.providerDecline(ctx, tx, c, message)
		case ActionCounter:
			notes, err = s.providerCounter(ctx, tx, c, providerID, counterBudget, message)
		}
		return err
	})
	if err != nil {
		zapLog.Warn("provider response rejected", zap.Error(err))
		return nil, err
	}

	notify.Dispatch(ctx, s.gateway, notes)

	return s.repo.GetCase(ctx, caseID)
}

func (s *Service) providerAccept(ctx context.Context, tx *gorm.DB, c *cases.Case, providerID string) ([]notify.Message, error) {
	limits, err := s.repo.LookupTierLimits(ctx, tx, providerID)
	if err != nil {
		return nil, err
	}

	cost, err := tier.CostForBudget(c.CustomerBudget, limits)
	if err != nil {
		return nil, err
	}

	if _, err := s.points.SpendTx(ctx, tx, providerID, cost, "direct case accepted", c.ID); err != nil {
		return nil, err
	}

	err = s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
		"status":             cases.StatusAccepted,
		"negotiation_status": cases.NegotiationAccepted,
		"provider_id":        providerID,
		"assigned_sp_id":     providerID,
	})
	if err != nil {
		return nil, err
	}

	return []notify.Message{{
		UserID: c.CustomerID,
		Kind:   "case_accepted",
		Title:  "Your case was accepted",
		Body:   "The provider accepted your case at the proposed budget.",
		Data:   map[string]any{"case_id": c.ID, "provider_id": providerID},
	}}, nil
}

func (s *Service) providerDecline(ctx context.Context, tx *gorm.DB, c *cases.Case, reason string) ([]notify.Message, error) {
	err := s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
		"negotiation_status": cases.NegotiationSPDeclined,
		"status":             cases.StatusPending,
		"provider_id":        "",
		"assigned_sp_id":     "",
		"bidding_enabled":    true,
		"max_bidders":        s.defaultMaxBidders(),
		"decline_reason":     reason,
	})
	if err != nil {
		return nil, err
	}

	return []notify.Message{{
		UserID: c.CustomerID,
		Kind:   "case_declined",
		Title:  "Your case was declined",
		Body:   "The provider declined your case. It is now open for marketplace bidding.",
		Data:   map[string]any{"case_id": c.ID},
	}}, nil
}

func (s *Service) providerCounter(ctx context.Context, tx *gorm.DB, c *cases.Case, providerID, counterBudget, message string) ([]notify.Message, error) {
	limits, err := s.repo.LookupTierLimits(ctx, tx, providerID)
	if err != nil {
		return nil, err
	}
	if err := tier.ValidateBudgetCeiling(tier.BudgetRangeMidpoint(counterBudget), limits); err != nil {
		return nil, err
	}

	// No points move yet; the charge happens only if the customer accepts.
	err = s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
		"negotiation_status": cases.NegotiationCounterOffered,
		"sp_counter_budget":  counterBudget,
		"counter_message":    message,
	})
	if err != nil {
		return nil, err
	}

	return []notify.Message{{
		UserID: c.CustomerID,
		Kind:   "counter_offer",
		Title:  "You received a counter offer",
		Body:   fmt.Sprintf("The provider proposed a budget of %s.", counterBudget),
		Data:   map[string]any{"case_id": c.ID, "counter_budget": counterBudget},
	}}, nil
}

// CustomerRespond handles the customer's answer to a provider counter offer.
// Accepting charges the provider's points at the provider's tier: points fund
// the party winning the work, not the requester.
func (s *Service) CustomerRespond(ctx context.Context, caseID, customerID, action string) (*Result, error) {
	switch action {
	case ActionAccept, ActionDecline:
	default:
		return nil, errutil.ValidationFailed(fmt.Sprintf("unsupported action %q", action))
	}

	var notes []notify.Message
	var nextActions []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}

		if c.CustomerID != customerID {
			return errutil.Forbidden("only the case's customer may respond to a counter offer")
		}
		if c.NegotiationStatus != cases.NegotiationCounterOffered {
			return errutil.InvalidState("case has no pending counter offer")
		}

		provider := c.AssignedSPID
		if provider == "" {
			provider = c.ProviderID
		}

		if action == ActionDecline {
			err := s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
				"negotiation_status": cases.NegotiationCustomerDeclined,
			})
			if err != nil {
				return err
			}
			nextActions = []string{"cancel", "send_to_marketplace"}
			notes = append(notes, notify.Message{
				UserID: provider,
				Kind:   "counter_declined",
				Title:  "Counter offer declined",
				Body:   "The customer declined your counter offer.",
				Data:   map[string]any{"case_id": c.ID},
			})
			return nil
		}

		limits, err := s.repo.LookupTierLimits(ctx, tx, provider)
		if err != nil {
			return err
		}
		cost, err := tier.CostForBudget(c.SPCounterBudget, limits)
		if err != nil {
			return err
		}

		if _, err := s.points.SpendTx(ctx, tx, provider, cost, "counter offer accepted", c.ID); err != nil {
			// The provider's balance may have dropped since the offer was
			// made; surface that to the customer.
			var be errutil.BaseError
			if errors.As(err, &be) && be.Code == errutil.StatusInsufficientPoints {
				details := append(be.Details, errutil.Detail{Field: "party", Message: "provider"})
				return errutil.New(errutil.StatusInsufficientPoints,
					"the provider can no longer afford this case", errutil.WithDetails(details...))
			}
			return err
		}

		err = s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
			"status":             cases.StatusAccepted,
			"negotiation_status": cases.NegotiationAccepted,
			"customer_budget":    c.SPCounterBudget,
			"provider_id":        provider,
			"assigned_sp_id":     provider,
		})
		if err != nil {
			return err
		}

		notes = append(notes, notify.Message{
			UserID: provider,
			Kind:   "counter_accepted",
			Title:  "Counter offer accepted",
			Body:   "The customer accepted your counter offer. The case is yours.",
			Data:   map[string]any{"case_id": c.ID, "budget": c.SPCounterBudget},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, s.gateway, notes)

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return &Result{Case: c, NextActions: nextActions}, nil
}

// SendToMarketplace re-opens a declined direct case for open bidding with a
// fresh bidder count.
func (s *Service) SendToMarketplace(ctx context.Context, caseID, customerID string) (*cases.Case, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}

		if c.CustomerID != customerID {
			return errutil.Forbidden("only the case's customer may send it to the marketplace")
		}
		if c.NegotiationStatus != cases.NegotiationSPDeclined && c.NegotiationStatus != cases.NegotiationCustomerDeclined {
			return errutil.InvalidState("only a declined case can be sent to the marketplace")
		}

		return s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
			"status":             cases.StatusPending,
			"negotiation_status": cases.NegotiationNone,
			"assignment_type":    cases.AssignmentOpen,
			"is_open_case":       true,
			"assigned_sp_id":     "",
			"provider_id":        "",
			"sp_counter_budget":  "",
			"counter_message":    "",
			"decline_reason":     "",
			"bidding_enabled":    true,
			"bidding_closed":     false,
			"bidding_closed_at":  nil,
			"max_bidders":        s.defaultMaxBidders(),
			"current_bidders":    0,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetCase(ctx, caseID)
}

// Cancel withdraws a case that has not been assigned yet. No refund logic is
// needed: in the direct flow no points move before acceptance.
func (s *Service) Cancel(ctx context.Context, caseID, customerID string) (*cases.Case, error) {
	var notes []notify.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.LockCaseForUpdate(ctx, tx, caseID)
		if err != nil {
			return err
		}

		if c.CustomerID != customerID {
			return errutil.Forbidden("only the case's customer may cancel it")
		}
		switch c.Status {
		case cases.StatusAccepted, cases.StatusCompleted, cases.StatusInProgress:
			return errutil.InvalidState(fmt.Sprintf("a case in status %q cannot be cancelled", c.Status))
		}

		err = s.repo.UpdateNegotiation(ctx, tx, c.ID, map[string]any{
			"status":             cases.StatusCancelled,
			"negotiation_status": cases.NegotiationCancelled,
		})
		if err != nil {
			return err
		}

		if c.AssignedSPID != "" {
			notes = append(notes, notify.Message{
				UserID: c.AssignedSPID,
				Kind:   "case_cancelled",
				Title:  "Case cancelled",
				Body:   "The customer cancelled the case.",
				Data:   map[string]any{"case_id": c.ID},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, s.gateway, notes)

	return s.repo.GetCase(ctx, caseID)
}

func (s *Service) defaultMaxBidders() int {
	if s.cfg != nil && s.cfg.Negotiation.DefaultMaxBidders > 0 {
		return s.cfg.Negotiation.DefaultMaxBidders
	}
	return 3
}

// awaitingProviderReview accepts both the explicit review status and the
// legacy shape where a freshly assigned case only carries status=pending.
func awaitingProviderReview(c *cases.Case) bool {
	if c.NegotiationStatus == cases.NegotiationPendingSPReview {
		return true
	}
	return c.Status == cases.StatusPending &&
		(c.NegotiationStatus == cases.NegotiationNone || c.NegotiationStatus == "")
}
