package biddingerrors

import (
	"errors"
	"fmt"
)

// Repository-level errors
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionExists    = errors.New("auction already exists for listing")
	ErrVersionConflict  = errors.New("auction record version conflict")
	ErrOrderAlreadySet  = errors.New("order reference already recorded")
	ErrStoreUnavailable = errors.New("auction store unavailable")
)

// bid validation errors, reported synchronously and never retried
var (
	ErrInvalidBid       = errors.New("invalid bid")
	ErrAuctionNotActive = errors.New("auction is not active")
	ErrAuctionEnded     = errors.New("auction has ended")
	ErrBidTooLow        = errors.New("bid amount too low")
	ErrSellerCannotBid  = errors.New("seller cannot bid on own auction")
)

// state machine errors
var (
	ErrInvalidAuction    = errors.New("invalid auction parameters")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotPermitted      = errors.New("operation not permitted")
	ErrTransient         = errors.New("transient failure, re-fetch and resubmit")
)

// collaborator errors
var (
	ErrOrderServiceUnavailable = errors.New("order service unavailable")
)

// BidRejection is returned by the validator when a proposed bid is refused.
// It unwraps to one of the validation sentinels above.
type BidRejection struct {
	Reason        error
	MinimumAmount float64

	// Closed marks an auction that already settled by time; such a
	// rejection matches both ErrAuctionEnded and ErrAuctionNotActive.
	Closed bool
}

func (r *BidRejection) Error() string {
	if errors.Is(r.Reason, ErrBidTooLow) {
		return fmt.Sprintf("%s: minimum acceptable bid is %.2f", r.Reason, r.MinimumAmount)
	}
	return r.Reason.Error()
}

func (r *BidRejection) Unwrap() error {
	return r.Reason
}

func (r *BidRejection) Is(target error) bool {
	return r.Closed && (target == ErrAuctionNotActive || target == ErrAuctionEnded)
}

// ReasonCode returns a stable machine-readable code for the rejection
func (r *BidRejection) ReasonCode() string {
	switch {
	case errors.Is(r.Reason, ErrAuctionNotActive):
		return "auction_not_active"
	case errors.Is(r.Reason, ErrAuctionEnded):
		return "auction_ended"
	case errors.Is(r.Reason, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(r.Reason, ErrSellerCannotBid):
		return "seller_cannot_bid"
	default:
		return "invalid_bid"
	}
}
