package cases

import "time"

// Case lifecycle status.
const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Negotiation sub-status, distinct from the coarse lifecycle status.
const (
	NegotiationNone             = "none"
	NegotiationPendingSPReview  = "pending_sp_review"
	NegotiationCounterOffered   = "counter_offered"
	NegotiationSPDeclined       = "sp_declined"
	NegotiationCustomerDeclined = "customer_declined"
	NegotiationAccepted         = "accepted"
	NegotiationCancelled        = "cancelled"
)

// Assignment routing.
const (
	AssignmentSpecific = "specific"
	AssignmentOpen     = "open"
)

// Bid status.
const (
	BidPending  = "pending"
	BidWon      = "won"
	BidLost     = "lost"
	BidRefunded = "refunded"
)

// Case is a unit of work a customer wants performed. Negotiation fields are
// mutated exclusively through the engines, under a row-level exclusive lock.
type Case struct {
	ID                string     `gorm:"column:id;primaryKey"`
	CustomerID        string     `gorm:"column:customer_id;index;not null"`
	Status            string     `gorm:"column:status;default:pending"`
	NegotiationStatus string     `gorm:"column:negotiation_status;default:none"`
	AssignmentType    string     `gorm:"column:assignment_type;default:open"`
	AssignedSPID      string     `gorm:"column:assigned_sp_id;index"`
	ProviderID        string     `gorm:"column:provider_id;index"`
	CustomerBudget    string     `gorm:"column:customer_budget"`
	SPCounterBudget   string     `gorm:"column:sp_counter_budget"`
	CounterMessage    string     `gorm:"column:counter_message"`
	DeclineReason     string     `gorm:"column:decline_reason"`
	IsOpenCase        bool       `gorm:"column:is_open_case"`
	BiddingEnabled    bool       `gorm:"column:bidding_enabled"`
	MaxBidders        int        `gorm:"column:max_bidders;default:3"`
	CurrentBidders    int        `gorm:"column:current_bidders"`
	BidSequence       int        `gorm:"column:bid_sequence"`
	BiddingClosed     bool       `gorm:"column:bidding_closed"`
	BiddingClosedAt   *time.Time `gorm:"column:bidding_closed_at"`
	WinningBidID      string     `gorm:"column:winning_bid_id"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Case) TableName() string {
	return "cases"
}

// Bid is one provider's offer on an open case. A provider holds at most one
// bid per case; at most one bid per case ever reaches won.
type Bid struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	CaseID              string    `gorm:"column:case_id;uniqueIndex:idx_bids_case_provider;not null"`
	ProviderID          string    `gorm:"column:provider_id;uniqueIndex:idx_bids_case_provider;not null"`
	BidOrder            int       `gorm:"column:bid_order"`
	ProposedBudgetRange string    `gorm:"column:proposed_budget_range"`
	BidComment          string    `gorm:"column:bid_comment"`
	BidStatus           string    `gorm:"column:bid_status;default:pending"`
	ParticipationPoints int64     `gorm:"column:participation_points"`
	PointsBid           int64     `gorm:"column:points_bid"`
	PointsDeducted      int64     `gorm:"column:points_deducted"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Bid) TableName() string {
	return "bids"
}
