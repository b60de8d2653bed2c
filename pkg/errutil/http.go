package errutil

import (
	"context"
	"errors"
	"net/http"
)

// HTTPCode converts the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPCode() int {
	switch s {
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusConflict, StatusInvalidState, StatusBiddingClosed,
		StatusMaxBiddersReached, StatusDuplicateBid:
		return http.StatusConflict
	case StatusInsufficientPoints, StatusBudgetExceedsTier, StatusTierUnsupported:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusInternal, StatusUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError normalises a domain error into (status, body) so transport
// handlers never leak raw error strings for infrastructure failures.
func ToHTTPError(err error) (int, interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		be := BaseError{Code: StatusTimeout, Message: "request cancelled"}
		return be.Code.HTTPCode(), be.JSON()
	}

	var base BaseError
	if errors.As(err, &base) {
		return base.Code.HTTPCode(), base.JSON()
	}

	// Unclassified errors are infrastructure failures; details stay server-side.
	be := BaseError{Code: StatusInternal, Message: "something went wrong, try again"}
	return be.Code.HTTPCode(), be.JSON()
}
