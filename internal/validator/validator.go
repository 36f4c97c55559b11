// Package validator decides whether a proposed bid may be accepted against
// an auction snapshot. It has no side effects and needs no store.
package validator

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 2 // amounts are whole minor currency units

// Proposal is a bid as submitted by a bidder
type Proposal struct {
	BidderID string
	Amount   float64
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// IsMonetary reports whether v is a finite amount with no more than two
// decimal places. Amounts are compared exactly, never rounded.
func IsMonetary(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	d := money(v)
	return d.Equal(d.Truncate(monetaryPrecision))
}

// MinimumBid returns the lowest amount the next bid must reach
func MinimumBid(a model.Auction) float64 {
	return money(a.CurrentBid).Add(money(a.BidIncrement)).InexactFloat64()
}

// MeetsAmount reports whether amount >= threshold
func MeetsAmount(amount, threshold float64) bool {
	return money(amount).GreaterThanOrEqual(money(threshold))
}

// ReserveMet reports whether the current bid satisfies the reserve price.
// An auction without a reserve always satisfies it.
func ReserveMet(a model.Auction) bool {
	if a.ReservePrice == nil {
		return true
	}
	return MeetsAmount(a.CurrentBid, *a.ReservePrice)
}

func closedByTime(s model.AuctionStatus) bool {
	return s == model.StatusSold || s == model.StatusUnsold || s == model.StatusReserveNotMet
}

// Validate checks p against snapshot a at time now. Checks run in a fixed
// order and stop at the first failure. A nil result means accepted.
func Validate(a model.Auction, p Proposal, now time.Time) error {
	if a.Status != model.StatusActive {
		if closedByTime(a.Status) {
			return &biddingerrors.BidRejection{Reason: biddingerrors.ErrAuctionEnded, Closed: true}
		}
		return &biddingerrors.BidRejection{Reason: biddingerrors.ErrAuctionNotActive}
	}
	if !now.Before(a.EndTime) {
		return &biddingerrors.BidRejection{Reason: biddingerrors.ErrAuctionEnded}
	}
	if p.Amount <= 0 || !IsMonetary(p.Amount) {
		return &biddingerrors.BidRejection{Reason: biddingerrors.ErrInvalidBid}
	}
	if minimum := MinimumBid(a); !MeetsAmount(p.Amount, minimum) {
		return &biddingerrors.BidRejection{Reason: biddingerrors.ErrBidTooLow, MinimumAmount: minimum}
	}
	if p.BidderID == a.SellerID {
		return &biddingerrors.BidRejection{Reason: biddingerrors.ErrSellerCannotBid}
	}
	return nil
}
