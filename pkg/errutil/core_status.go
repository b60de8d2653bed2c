package errutil

// CoreStatus is the stable machine-readable code carried by every BaseError.
// Callers (and UIs) branch on these values, so they must never change once
// released.
type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized     CoreStatus = "UNAUTHORIZED"
	StatusForbidden        CoreStatus = "FORBIDDEN"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusConflict         CoreStatus = "CONFLICT"
	StatusInvalidState     CoreStatus = "INVALID_STATE"
	StatusTimeout          CoreStatus = "TIMEOUT"
	StatusTooManyRequests  CoreStatus = "TOO_MANY_REQUESTS"
	StatusInternal         CoreStatus = "INTERNAL"
	StatusUnknown          CoreStatus = "UNKNOWN"
)

// Domain statuses for the negotiation and points economy.
const (
	StatusInsufficientPoints CoreStatus = "INSUFFICIENT_POINTS"
	StatusBudgetExceedsTier  CoreStatus = "BUDGET_EXCEEDS_TIER"
	StatusTierUnsupported    CoreStatus = "TIER_UNSUPPORTED"
	StatusBiddingClosed      CoreStatus = "BIDDING_CLOSED"
	StatusMaxBiddersReached  CoreStatus = "MAX_BIDDERS_REACHED"
	StatusDuplicateBid       CoreStatus = "DUPLICATE_BID"
)
